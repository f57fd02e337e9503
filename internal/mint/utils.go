package mint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"golang.org/x/sync/errgroup"

	"github.com/openbook-dex/openbook-v2-simulation/internal/chain"
)

// AccountSize is the byte size of an SPL token mint account.
const AccountSize = 82

// Utils creates mints owned by the authority and token accounts against them.
// The authority pays for every account and is the mint authority.
type Utils struct {
	chain     chain.Submitter
	authority solana.PrivateKey
	decimals  uint8
	logger    *slog.Logger
}

func New(submitter chain.Submitter, authority solana.PrivateKey, decimals uint8, logger *slog.Logger) *Utils {
	return &Utils{
		chain:     submitter,
		authority: authority,
		decimals:  decimals,
		logger:    logger,
	}
}

// CreateMints creates n mints concurrently. The result keeps index order; the
// first failure cancels the rest.
func (u *Utils) CreateMints(ctx context.Context, n int) ([]solana.PublicKey, error) {
	if n <= 0 {
		return nil, nil
	}
	rent, err := u.chain.RentExemption(ctx, AccountSize)
	if err != nil {
		return nil, fmt.Errorf("mint rent exemption: %w", err)
	}

	mints := make([]solana.PublicKey, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range mints {
		g.Go(func() error {
			mint, err := u.createMint(gctx, rent)
			if err != nil {
				return fmt.Errorf("create mint %d: %w", i, err)
			}
			mints[i] = mint
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mints, nil
}

func (u *Utils) createMint(ctx context.Context, rent uint64) (solana.PublicKey, error) {
	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("generate mint keypair: %w", err)
	}
	mint := mintKey.PublicKey()
	payer := u.authority.PublicKey()

	createIx, err := system.NewCreateAccountInstruction(rent, AccountSize, solana.TokenProgramID, payer, mint).ValidateAndBuild()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("build create account: %w", err)
	}
	initIx, err := token.NewInitializeMintInstruction(u.decimals, payer, payer, mint, solana.SysVarRentPubkey).ValidateAndBuild()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("build initialize mint: %w", err)
	}

	if _, err := u.chain.Send(ctx, u.authority, []solana.Instruction{createIx, initIx}, mintKey); err != nil {
		return solana.PublicKey{}, err
	}
	u.logger.Debug("mint created", "mint", mint, "decimals", u.decimals)
	return mint, nil
}

// CreateTokenAccount creates the associated token account of owner for mint.
// owner may be a program derived address.
func (u *Utils) CreateTokenAccount(ctx context.Context, mint, owner solana.PublicKey) (solana.PublicKey, error) {
	ata, createIx, err := u.createTokenAccountInstruction(mint, owner)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if _, err := u.chain.Send(ctx, u.authority, []solana.Instruction{createIx}); err != nil {
		return solana.PublicKey{}, fmt.Errorf("create token account of %s for mint %s: %w", owner, mint, err)
	}
	return ata, nil
}

// MintTo creates the associated token account of owner and mints amount into
// it within one transaction.
func (u *Utils) MintTo(ctx context.Context, mint, owner solana.PublicKey, amount uint64) (solana.PublicKey, error) {
	ata, createIx, err := u.createTokenAccountInstruction(mint, owner)
	if err != nil {
		return solana.PublicKey{}, err
	}
	mintIx, err := token.NewMintToInstruction(amount, mint, ata, u.authority.PublicKey(), nil).ValidateAndBuild()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("build mint to: %w", err)
	}
	if _, err := u.chain.Send(ctx, u.authority, []solana.Instruction{createIx, mintIx}); err != nil {
		return solana.PublicKey{}, fmt.Errorf("mint %d of %s to %s: %w", amount, mint, owner, err)
	}
	return ata, nil
}

func (u *Utils) createTokenAccountInstruction(mint, owner solana.PublicKey) (solana.PublicKey, solana.Instruction, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("derive token account of %s for mint %s: %w", owner, mint, err)
	}
	createIx := associatedtokenaccount.NewCreateInstruction(u.authority.PublicKey(), owner, mint).Build()
	return ata, createIx, nil
}
