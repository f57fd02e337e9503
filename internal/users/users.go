package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"golang.org/x/sync/errgroup"

	"github.com/openbook-dex/openbook-v2-simulation/internal/chain"
)

// MintAmount is the number of base units minted to every user on every mint.
const MintAmount = uint64(100_000_000_000_000_000)

type OpenOrders struct {
	Market     solana.PublicKey `json:"market"`
	OpenOrders solana.PublicKey `json:"open_orders"`
}

type TokenAccount struct {
	Mint         solana.PublicKey `json:"mint"`
	TokenAccount solana.PublicKey `json:"token_account"`
}

// User is a simulated trader: its keypair, one open-orders account per market
// and one token account per mint.
type User struct {
	Key        solana.PrivateKey
	OpenOrders []OpenOrders
	TokenData  []TokenAccount
}

func (u User) PublicKey() solana.PublicKey {
	return u.Key.PublicKey()
}

// OpenOrdersFor returns the user's open-orders account on market.
func (u User) OpenOrdersFor(market solana.PublicKey) (solana.PublicKey, bool) {
	for _, oo := range u.OpenOrders {
		if oo.Market.Equals(market) {
			return oo.OpenOrders, true
		}
	}
	return solana.PublicKey{}, false
}

// TokenAccountFor returns the user's token account for mint.
func (u User) TokenAccountFor(mint solana.PublicKey) (solana.PublicKey, bool) {
	for _, ta := range u.TokenData {
		if ta.Mint.Equals(mint) {
			return ta.TokenAccount, true
		}
	}
	return solana.PublicKey{}, false
}

// TokenMinter is the part of the mint utilities the provisioner needs.
type TokenMinter interface {
	MintTo(ctx context.Context, mint, owner solana.PublicKey, amount uint64) (solana.PublicKey, error)
}

type Provisioner struct {
	chain     chain.Submitter
	authority solana.PrivateKey
	minter    TokenMinter
	logger    *slog.Logger
}

func NewProvisioner(submitter chain.Submitter, authority solana.PrivateKey, minter TokenMinter, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		chain:     submitter,
		authority: authority,
		minter:    minter,
		logger:    logger,
	}
}

// CreateUsers generates count keypairs and funds each with lamports
// transferred from the authority.
func (p *Provisioner) CreateUsers(ctx context.Context, count int, lamports uint64) ([]solana.PrivateKey, error) {
	keys := make([]solana.PrivateKey, count)

	g, gctx := errgroup.WithContext(ctx)
	for i := range keys {
		g.Go(func() error {
			key, err := solana.NewRandomPrivateKey()
			if err != nil {
				return fmt.Errorf("generate user keypair: %w", err)
			}
			transferIx, err := system.NewTransferInstruction(lamports, p.authority.PublicKey(), key.PublicKey()).ValidateAndBuild()
			if err != nil {
				return fmt.Errorf("build transfer: %w", err)
			}
			if _, err := p.chain.Send(gctx, p.authority, []solana.Instruction{transferIx}); err != nil {
				return fmt.Errorf("fund user %s: %w", key.PublicKey(), err)
			}
			keys[i] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

// MintUser creates owner's token account on every mint and funds it with
// amount. The result follows mint order.
func (p *Provisioner) MintUser(ctx context.Context, owner solana.PublicKey, mints []solana.PublicKey, amount uint64) ([]TokenAccount, error) {
	out := make([]TokenAccount, len(mints))
	g, gctx := errgroup.WithContext(ctx)
	for i, mint := range mints {
		g.Go(func() error {
			account, err := p.minter.MintTo(gctx, mint, owner, amount)
			if err != nil {
				return err
			}
			out[i] = TokenAccount{Mint: mint, TokenAccount: account}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	p.logger.Debug("user funded", "user", owner, "mints", len(mints))
	return out, nil
}
