package openbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"golang.org/x/sync/errgroup"

	"github.com/openbook-dex/openbook-v2-simulation/internal/anchor/openbook_v2"
	"github.com/openbook-dex/openbook-v2-simulation/internal/chain"
	"github.com/openbook-dex/openbook-v2-simulation/internal/dex"
	"github.com/openbook-dex/openbook-v2-simulation/internal/users"
)

const (
	// AdminAirdropSOL funds each market admin before it pays for its oracle
	// and market accounts.
	AdminAirdropSOL = 1000

	DefaultComputeUnitLimit = 10_000_000

	oracleMaxStalenessSlots = uint32(100)
	minOraclePrice          = 100
	oraclePriceSpan         = 1000
)

// TokenAccountCreator creates token accounts for an owner that may be a
// program derived address.
type TokenAccountCreator interface {
	CreateTokenAccount(ctx context.Context, mint, owner solana.PublicKey) (solana.PublicKey, error)
}

type Options struct {
	ProgramID        solana.PublicKey
	ComputeUnitLimit uint32
}

// Configurator drives the openbook_v2 program: markets, per-user
// registration and resting orders.
type Configurator struct {
	chain     chain.Submitter
	authority solana.PrivateKey
	tokens    TokenAccountCreator
	programID solana.PublicKey
	cuLimit   uint32
	logger    *slog.Logger

	randomPrice func() int64
}

func NewConfigurator(submitter chain.Submitter, authority solana.PrivateKey, tokens TokenAccountCreator, opts Options, logger *slog.Logger) *Configurator {
	cuLimit := opts.ComputeUnitLimit
	if cuLimit == 0 {
		cuLimit = DefaultComputeUnitLimit
	}
	openbook_v2.SetProgramID(opts.ProgramID)
	return &Configurator{
		chain:     submitter,
		authority: authority,
		tokens:    tokens,
		programID: opts.ProgramID,
		cuLimit:   cuLimit,
		logger:    logger,
		randomPrice: func() int64 {
			return minOraclePrice + rand.Int64N(oraclePriceSpan)
		},
	}
}

// ConfigureMarkets creates one market per mint after the first, quoting each
// against mints[0]. Markets are created concurrently; the result follows
// market index order. A lone quote mint yields no markets.
func (c *Configurator) ConfigureMarkets(ctx context.Context, mints []solana.PublicKey) ([]Market, error) {
	if len(mints) == 0 {
		return nil, errors.New("no quote mint")
	}
	if len(mints) == 1 {
		return []Market{}, nil
	}
	quoteMint := mints[0]

	oracleB, _, err := dex.DeriveStubOraclePDA(c.programID, quoteMint)
	if err != nil {
		return nil, fmt.Errorf("derive quote oracle: %w", err)
	}
	createB, err := openbook_v2.NewStubOracleCreateInstruction(openbook_v2.I80F48{Val: 1}, c.authority.PublicKey(), oracleB, quoteMint)
	if err != nil {
		return nil, err
	}
	if _, err := c.chain.Send(ctx, c.authority, []solana.Instruction{createB}); err != nil {
		return nil, fmt.Errorf("create quote oracle %s: %w", oracleB, err)
	}

	bookSideRent, err := c.chain.RentExemption(ctx, openbook_v2.BookSideSize)
	if err != nil {
		return nil, fmt.Errorf("book side rent exemption: %w", err)
	}
	eventQueueRent, err := c.chain.RentExemption(ctx, openbook_v2.EventQueueSize)
	if err != nil {
		return nil, fmt.Errorf("event queue rent exemption: %w", err)
	}

	markets := make([]Market, len(mints)-1)
	g, gctx := errgroup.WithContext(ctx)
	for i, baseMint := range mints[1:] {
		g.Go(func() error {
			market, err := c.createMarket(gctx, marketParams{
				index:          i,
				baseMint:       baseMint,
				quoteMint:      quoteMint,
				oracleB:        oracleB,
				bookSideRent:   bookSideRent,
				eventQueueRent: eventQueueRent,
			})
			if err != nil {
				return fmt.Errorf("market %d (base mint %s): %w", i, baseMint, err)
			}
			markets[i] = market
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return markets, nil
}

type marketParams struct {
	index          int
	baseMint       solana.PublicKey
	quoteMint      solana.PublicKey
	oracleB        solana.PublicKey
	bookSideRent   uint64
	eventQueueRent uint64
}

func (c *Configurator) createMarket(ctx context.Context, p marketParams) (Market, error) {
	admin, err := solana.NewRandomPrivateKey()
	if err != nil {
		return Market{}, fmt.Errorf("generate admin keypair: %w", err)
	}
	if err := c.chain.Airdrop(ctx, admin.PublicKey(), AdminAirdropSOL*solana.LAMPORTS_PER_SOL); err != nil {
		return Market{}, fmt.Errorf("fund admin: %w", err)
	}

	oracleA, _, err := dex.DeriveStubOraclePDA(c.programID, p.baseMint)
	if err != nil {
		return Market{}, fmt.Errorf("derive base oracle: %w", err)
	}
	createA, err := openbook_v2.NewStubOracleCreateInstruction(openbook_v2.I80F48{Val: 1}, admin.PublicKey(), oracleA, p.baseMint)
	if err != nil {
		return Market{}, err
	}
	if _, err := c.chain.Send(ctx, admin, []solana.Instruction{createA}); err != nil {
		return Market{}, fmt.Errorf("create base oracle %s: %w", oracleA, err)
	}

	price := c.randomPrice()
	for _, oracle := range []solana.PublicKey{oracleA, p.oracleB} {
		setIx, err := openbook_v2.NewStubOracleSetInstruction(openbook_v2.I80F48{Val: price}, oracle)
		if err != nil {
			return Market{}, err
		}
		if _, err := c.chain.Send(ctx, admin, []solana.Instruction{setIx}); err != nil {
			return Market{}, fmt.Errorf("set oracle %s price: %w", oracle, err)
		}
	}

	asks, err := c.createProgramAccount(ctx, openbook_v2.BookSideSize, p.bookSideRent)
	if err != nil {
		return Market{}, fmt.Errorf("create asks: %w", err)
	}
	bids, err := c.createProgramAccount(ctx, openbook_v2.BookSideSize, p.bookSideRent)
	if err != nil {
		return Market{}, fmt.Errorf("create bids: %w", err)
	}
	eventQueue, err := c.createProgramAccount(ctx, openbook_v2.EventQueueSize, p.eventQueueRent)
	if err != nil {
		return Market{}, fmt.Errorf("create event queue: %w", err)
	}

	marketKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return Market{}, fmt.Errorf("generate market keypair: %w", err)
	}
	marketPK := marketKey.PublicKey()
	marketAuthority, _, err := dex.DeriveMarketAuthorityPDA(c.programID, marketPK)
	if err != nil {
		return Market{}, fmt.Errorf("derive market authority: %w", err)
	}
	baseVault, err := c.tokens.CreateTokenAccount(ctx, p.baseMint, marketAuthority)
	if err != nil {
		return Market{}, fmt.Errorf("create base vault: %w", err)
	}
	quoteVault, err := c.tokens.CreateTokenAccount(ctx, p.quoteMint, marketAuthority)
	if err != nil {
		return Market{}, fmt.Errorf("create quote vault: %w", err)
	}

	name := fmt.Sprintf("index %d wrt 0", p.index)
	staleness := oracleMaxStalenessSlots
	createIx, err := openbook_v2.NewCreateMarketInstruction(
		openbook_v2.CreateMarketArgs{
			Name: name,
			OracleConfig: openbook_v2.OracleConfigParams{
				ConfFilter:        0,
				MaxStalenessSlots: &staleness,
			},
			QuoteLotSize: 1,
			BaseLotSize:  1,
			MakerFee:     0,
			TakerFee:     0,
			TimeExpiry:   0,
		},
		openbook_v2.CreateMarketAccounts{
			Market:          marketPK,
			MarketAuthority: marketAuthority,
			Bids:            bids,
			Asks:            asks,
			EventQueue:      eventQueue,
			Payer:           admin.PublicKey(),
			BaseVault:       baseVault,
			QuoteVault:      quoteVault,
			BaseMint:        p.baseMint,
			QuoteMint:       p.quoteMint,
			OracleA:         oracleA,
			OracleB:         p.oracleB,
			CollectFeeAdmin: admin.PublicKey(),
		},
	)
	if err != nil {
		return Market{}, err
	}
	cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(c.cuLimit).ValidateAndBuild()
	if err != nil {
		return Market{}, fmt.Errorf("build compute unit limit: %w", err)
	}
	if _, err := c.chain.Send(ctx, admin, []solana.Instruction{cuLimitIx, createIx}, marketKey); err != nil {
		return Market{}, fmt.Errorf("create market %s: %w", marketPK, err)
	}

	c.logger.Info("market created",
		"name", name,
		"market", marketPK,
		"base_mint", p.baseMint,
		"quote_mint", p.quoteMint,
		"price", price,
	)
	return Market{
		Name:        name,
		Admin:       admin,
		MarketPK:    marketPK,
		OracleA:     oracleA,
		OracleB:     p.oracleB,
		Asks:        asks,
		Bids:        bids,
		EventQueue:  eventQueue,
		BaseVault:   baseVault,
		QuoteVault:  quoteVault,
		BaseMint:    p.baseMint,
		QuoteMint:   p.quoteMint,
		MarketIndex: p.index,
		Price:       price,
	}, nil
}

// createProgramAccount allocates a zeroed, rent-exempt account of size bytes
// owned by the exchange program, paid by the authority.
func (c *Configurator) createProgramAccount(ctx context.Context, size uint64, rent uint64) (solana.PublicKey, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("generate account keypair: %w", err)
	}
	createIx, err := system.NewCreateAccountInstruction(rent, size, c.programID, c.authority.PublicKey(), key.PublicKey()).ValidateAndBuild()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("build create account: %w", err)
	}
	if _, err := c.chain.Send(ctx, c.authority, []solana.Instruction{createIx}, key); err != nil {
		return solana.PublicKey{}, err
	}
	return key.PublicKey(), nil
}

// ConfigureMarketForUser registers user on every market: an open-orders
// indexer, then the open-orders account at index 1. The authority pays. The
// result follows market order.
func (c *Configurator) ConfigureMarketForUser(ctx context.Context, user solana.PrivateKey, markets []Market) ([]users.OpenOrders, error) {
	owner := user.PublicKey()
	out := make([]users.OpenOrders, len(markets))

	g, gctx := errgroup.WithContext(ctx)
	for i, market := range markets {
		g.Go(func() error {
			indexer, _, err := dex.DeriveOpenOrdersIndexerPDA(c.programID, owner, market.MarketPK)
			if err != nil {
				return fmt.Errorf("derive open orders indexer: %w", err)
			}
			indexerIx, err := openbook_v2.NewCreateOpenOrdersIndexerInstruction(c.authority.PublicKey(), owner, indexer, market.MarketPK)
			if err != nil {
				return err
			}
			if _, err := c.chain.Send(gctx, c.authority, []solana.Instruction{indexerIx}, user); err != nil {
				return fmt.Errorf("create open orders indexer for %s on %s: %w", owner, market.MarketPK, err)
			}

			openOrders, _, err := dex.DeriveOpenOrdersPDA(c.programID, owner, market.MarketPK, dex.OpenOrdersAccountIndex)
			if err != nil {
				return fmt.Errorf("derive open orders: %w", err)
			}
			openOrdersIx, err := openbook_v2.NewCreateOpenOrdersAccountInstruction(c.authority.PublicKey(), owner, nil, indexer, openOrders, market.MarketPK)
			if err != nil {
				return err
			}
			if _, err := c.chain.Send(gctx, c.authority, []solana.Instruction{openOrdersIx}, user); err != nil {
				return fmt.Errorf("create open orders for %s on %s: %w", owner, market.MarketPK, err)
			}
			out[i] = users.OpenOrders{Market: market.MarketPK, OpenOrders: openOrders}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

var ErrUserNotRegistered = errors.New("user not registered on market")

// FillOrderBook rests nbOrders bids below 1000 lots then nbOrders asks above
// it on market, one transaction per order.
func (c *Configurator) FillOrderBook(ctx context.Context, user users.User, market Market, nbOrders int) error {
	openOrders, ok := user.OpenOrdersFor(market.MarketPK)
	if !ok {
		return fmt.Errorf("%w: %s has no open orders on %s", ErrUserNotRegistered, user.PublicKey(), market.MarketPK)
	}
	quoteAccount, ok := user.TokenAccountFor(market.QuoteMint)
	if !ok {
		return fmt.Errorf("%w: %s has no token account for quote mint %s", ErrUserNotRegistered, user.PublicKey(), market.QuoteMint)
	}
	baseAccount, ok := user.TokenAccountFor(market.BaseMint)
	if !ok {
		return fmt.Errorf("%w: %s has no token account for base mint %s", ErrUserNotRegistered, user.PublicKey(), market.BaseMint)
	}

	accounts := openbook_v2.PlaceOrderAccounts{
		Signer:            user.PublicKey(),
		OpenOrdersAccount: openOrders,
		Market:            market.MarketPK,
		Bids:              market.Bids,
		Asks:              market.Asks,
		EventQueue:        market.EventQueue,
		OracleA:           market.OracleA,
		OracleB:           market.OracleB,
	}

	for i := 0; i < nbOrders; i++ {
		accounts.MarketVault = market.QuoteVault
		accounts.UserTokenAccount = quoteAccount
		args := restingOrder(openbook_v2.Side_Bid, int64(1000-1-i), 10, uint64(i))
		if err := c.placeOrder(ctx, user, args, accounts); err != nil {
			return err
		}
	}
	for i := 0; i < nbOrders; i++ {
		accounts.MarketVault = market.BaseVault
		accounts.UserTokenAccount = baseAccount
		args := restingOrder(openbook_v2.Side_Ask, int64(1000+1+i), 10000, uint64(i+nbOrders+1))
		if err := c.placeOrder(ctx, user, args, accounts); err != nil {
			return err
		}
	}
	return nil
}

func restingOrder(side openbook_v2.Side, priceLots, maxBaseLots int64, clientOrderID uint64) openbook_v2.PlaceOrderArgs {
	return openbook_v2.PlaceOrderArgs{
		Side:                      side,
		PriceLots:                 priceLots,
		MaxBaseLots:               maxBaseLots,
		MaxQuoteLotsIncludingFees: 1_000_000,
		ClientOrderId:             clientOrderID,
		OrderType:                 openbook_v2.PlaceOrderType_Limit,
		ExpiryTimestamp:           math.MaxUint64,
		SelfTradeBehavior:         openbook_v2.SelfTradeBehavior_DecrementTake,
		Limit:                     255,
	}
}

func (c *Configurator) placeOrder(ctx context.Context, user users.User, args openbook_v2.PlaceOrderArgs, accounts openbook_v2.PlaceOrderAccounts) error {
	ix, err := openbook_v2.NewPlaceOrderInstruction(args, accounts)
	if err != nil {
		return err
	}
	if _, err := c.chain.Send(ctx, c.authority, []solana.Instruction{ix}, user.Key); err != nil {
		return fmt.Errorf("place %s order %d for %s on %s: %w", args.Side, args.ClientOrderId, user.PublicKey(), accounts.Market, err)
	}
	return nil
}
