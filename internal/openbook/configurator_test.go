package openbook

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/stretchr/testify/require"

	"github.com/openbook-dex/openbook-v2-simulation/internal/anchor/openbook_v2"
	"github.com/openbook-dex/openbook-v2-simulation/internal/chain/chaintest"
	"github.com/openbook-dex/openbook-v2-simulation/internal/dex"
	"github.com/openbook-dex/openbook-v2-simulation/internal/logging"
	"github.com/openbook-dex/openbook-v2-simulation/internal/mint"
	"github.com/openbook-dex/openbook-v2-simulation/internal/users"
)

type fixture struct {
	fake         *chaintest.Submitter
	authority    solana.PrivateKey
	programID    solana.PublicKey
	tokens       *mint.Utils
	configurator *Configurator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	authority, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	fake := chaintest.New()
	programID := solana.NewWallet().PublicKey()
	tokens := mint.New(fake, authority, 6, logging.Discard())
	c := NewConfigurator(fake, authority, tokens, Options{ProgramID: programID}, logging.Discard())
	return fixture{fake: fake, authority: authority, programID: programID, tokens: tokens, configurator: c}
}

func randomMints(n int) []solana.PublicKey {
	out := make([]solana.PublicKey, n)
	for i := range out {
		out[i] = solana.NewWallet().PublicKey()
	}
	return out
}

func TestConfigureMarketsWithOnlyQuoteMint(t *testing.T) {
	f := newFixture(t)
	markets, err := f.configurator.ConfigureMarkets(context.Background(), randomMints(1))
	require.NoError(t, err)
	require.NotNil(t, markets)
	require.Empty(t, markets)
	require.Empty(t, f.fake.Sent(), "no quote oracle without markets")

	_, err = f.configurator.ConfigureMarkets(context.Background(), nil)
	require.EqualError(t, err, "no quote mint")
}

func TestConfigureMarketsCreatesOneMarketPerBaseMint(t *testing.T) {
	f := newFixture(t)
	mints := randomMints(4)

	markets, err := f.configurator.ConfigureMarkets(context.Background(), mints)
	require.NoError(t, err)
	require.Len(t, markets, 3)

	quoteOracle := dex.MustDeriveStubOraclePDA(f.programID, mints[0])
	seenBase := make(map[solana.PublicKey]struct{})
	for i, market := range markets {
		require.Equal(t, i, market.MarketIndex)
		require.Equal(t, mints[i+1], market.BaseMint)
		require.Equal(t, mints[0], market.QuoteMint)
		require.NotEqual(t, market.QuoteMint, market.BaseMint)
		require.Equal(t, dex.MustDeriveStubOraclePDA(f.programID, market.BaseMint), market.OracleA)
		require.Equal(t, quoteOracle, market.OracleB)
		require.GreaterOrEqual(t, market.Price, int64(100))
		require.Less(t, market.Price, int64(1100))
		require.Equal(t, fmt.Sprintf("index %d wrt 0", i), market.Name)

		authority, _, err := dex.DeriveMarketAuthorityPDA(f.programID, market.MarketPK)
		require.NoError(t, err)
		baseVault, _, err := solana.FindAssociatedTokenAddress(authority, market.BaseMint)
		require.NoError(t, err)
		require.Equal(t, baseVault, market.BaseVault)

		seenBase[market.BaseMint] = struct{}{}
	}
	require.Len(t, seenBase, 3)

	// 3 markets, each with one admin airdrop of 1000 SOL.
	airdrops := f.fake.Airdrops()
	require.Len(t, airdrops, 3)
	for _, airdrop := range airdrops {
		require.Equal(t, uint64(AdminAirdropSOL)*solana.LAMPORTS_PER_SOL, airdrop.Lamports)
	}

	// the quote oracle is created once, every base oracle once.
	creates := f.fake.CallsTo(f.programID, openbook_v2.Instruction_StubOracleCreate[:])
	require.Len(t, creates, 4)
}

func TestConfigureMarketsSetsBothOraclesToMarketPrice(t *testing.T) {
	f := newFixture(t)

	markets, err := f.configurator.ConfigureMarkets(context.Background(), randomMints(3))
	require.NoError(t, err)

	for _, market := range markets {
		var prices []int64
		for _, tx := range f.fake.Sent() {
			if !tx.Payer.Equals(market.Admin.PublicKey()) {
				continue
			}
			for _, ix := range tx.Instructions {
				data, err := ix.Data()
				require.NoError(t, err)
				if openbook_v2.InstructionIDToName(data) != "StubOracleSet" {
					continue
				}
				price, err := openbook_v2.ParseStubOracleSetPrice(data)
				require.NoError(t, err)
				prices = append(prices, price.Val)
			}
		}
		require.Equal(t, []int64{market.Price, market.Price}, prices)
	}
}

func TestCreateMarketInstruction(t *testing.T) {
	f := newFixture(t)
	f.configurator.randomPrice = func() int64 { return 500 }

	markets, err := f.configurator.ConfigureMarkets(context.Background(), randomMints(2))
	require.NoError(t, err)
	require.Len(t, markets, 1)
	market := markets[0]

	var createTx *chaintest.Sent
	for _, tx := range f.fake.Sent() {
		for _, ix := range tx.Instructions {
			data, err := ix.Data()
			require.NoError(t, err)
			if openbook_v2.InstructionIDToName(data) == "CreateMarket" {
				createTx = &tx
			}
		}
	}
	require.NotNil(t, createTx)
	require.Len(t, createTx.Instructions, 2)
	require.Equal(t, computebudget.ProgramID, createTx.Instructions[0].ProgramID())
	require.Equal(t, market.Admin.PublicKey(), createTx.Payer)
	require.Contains(t, createTx.Signers, market.MarketPK)

	data, err := createTx.Instructions[1].Data()
	require.NoError(t, err)
	args, err := openbook_v2.ParseCreateMarketArgs(data)
	require.NoError(t, err)
	require.Equal(t, "index 0 wrt 0", args.Name)
	require.NotNil(t, args.OracleConfig.MaxStalenessSlots)
	require.Equal(t, uint32(100), *args.OracleConfig.MaxStalenessSlots)
	require.Equal(t, int64(1), args.QuoteLotSize)
	require.Equal(t, int64(1), args.BaseLotSize)
	require.Zero(t, args.MakerFee)
	require.Zero(t, args.TakerFee)
	require.Zero(t, args.TimeExpiry)

	accounts := createTx.Instructions[1].Accounts()
	require.Equal(t, market.MarketPK, accounts[0].PublicKey)
	require.Equal(t, market.Bids, accounts[2].PublicKey)
	require.Equal(t, market.Asks, accounts[3].PublicKey)
	require.Equal(t, market.Admin.PublicKey(), accounts[13].PublicKey)
	for _, optional := range accounts[14:] {
		require.Equal(t, f.programID, optional.PublicKey)
	}
	require.Equal(t, int64(500), market.Price)
}

func registeredUser(t *testing.T, f fixture, markets []Market, mints []solana.PublicKey) users.User {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	provisioner := users.NewProvisioner(f.fake, f.authority, f.tokens, logging.Discard())
	tokenData, err := provisioner.MintUser(context.Background(), key.PublicKey(), mints, users.MintAmount)
	require.NoError(t, err)
	openOrders, err := f.configurator.ConfigureMarketForUser(context.Background(), key, markets)
	require.NoError(t, err)
	return users.User{Key: key, OpenOrders: openOrders, TokenData: tokenData}
}

func TestConfigureMarketForUser(t *testing.T) {
	f := newFixture(t)
	mints := randomMints(3)
	markets, err := f.configurator.ConfigureMarkets(context.Background(), mints)
	require.NoError(t, err)

	user := registeredUser(t, f, markets, mints)
	require.Len(t, user.OpenOrders, len(markets))
	for i, oo := range user.OpenOrders {
		require.Equal(t, markets[i].MarketPK, oo.Market)
		want, _, err := dex.DeriveOpenOrdersPDA(f.programID, user.PublicKey(), markets[i].MarketPK, 1)
		require.NoError(t, err)
		require.Equal(t, want, oo.OpenOrders)
	}

	indexers := f.fake.CallsTo(f.programID, openbook_v2.Instruction_CreateOpenOrdersIndexer[:])
	require.Len(t, indexers, len(markets))
	accounts := f.fake.CallsTo(f.programID, openbook_v2.Instruction_CreateOpenOrdersAccount[:])
	require.Len(t, accounts, len(markets))
	for _, call := range accounts {
		require.Equal(t, f.authority.PublicKey(), call.Accounts[0])
		require.Equal(t, user.PublicKey(), call.Accounts[1])
		require.Equal(t, f.programID, call.Accounts[2], "no delegate")
	}
}

func TestFillOrderBook(t *testing.T) {
	f := newFixture(t)
	mints := randomMints(2)
	markets, err := f.configurator.ConfigureMarkets(context.Background(), mints)
	require.NoError(t, err)
	market := markets[0]
	user := registeredUser(t, f, markets, mints)
	quoteAccount, _ := user.TokenAccountFor(market.QuoteMint)
	baseAccount, _ := user.TokenAccountFor(market.BaseMint)

	const nbOrders = 5
	require.NoError(t, f.configurator.FillOrderBook(context.Background(), user, market, nbOrders))

	calls := f.fake.CallsTo(f.programID, openbook_v2.Instruction_PlaceOrder[:])
	require.Len(t, calls, 2*nbOrders)

	for i, call := range calls {
		args, err := openbook_v2.ParsePlaceOrderArgs(call.Data)
		require.NoError(t, err)
		require.Equal(t, openbook_v2.PlaceOrderType_Limit, args.OrderType)
		require.Equal(t, openbook_v2.SelfTradeBehavior_DecrementTake, args.SelfTradeBehavior)
		require.Equal(t, uint64(math.MaxUint64), args.ExpiryTimestamp)
		require.Equal(t, uint8(255), args.Limit)
		require.Equal(t, int64(1_000_000), args.MaxQuoteLotsIncludingFees)
		require.Equal(t, user.PublicKey(), call.Accounts[0])
		require.Equal(t, f.programID, call.Accounts[2], "no open orders admin")

		if i < nbOrders {
			require.Equal(t, openbook_v2.Side_Bid, args.Side)
			require.Equal(t, int64(1000-1-i), args.PriceLots)
			require.Equal(t, int64(10), args.MaxBaseLots)
			require.Equal(t, uint64(i), args.ClientOrderId)
			require.Equal(t, quoteAccount, call.Accounts[3])
			require.Equal(t, market.QuoteVault, call.Accounts[8])
		} else {
			j := i - nbOrders
			require.Equal(t, openbook_v2.Side_Ask, args.Side)
			require.Equal(t, int64(1000+1+j), args.PriceLots)
			require.Equal(t, int64(10000), args.MaxBaseLots)
			require.Equal(t, uint64(j+nbOrders+1), args.ClientOrderId)
			require.Equal(t, baseAccount, call.Accounts[3])
			require.Equal(t, market.BaseVault, call.Accounts[8])
		}
	}
}

func TestFillOrderBookRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	market := Market{MarketPK: solana.NewWallet().PublicKey()}
	user := users.User{Key: solana.NewWallet().PrivateKey}

	err := f.configurator.FillOrderBook(context.Background(), user, market, 1)
	require.ErrorIs(t, err, ErrUserNotRegistered)
	require.Empty(t, f.fake.Sent())
}
