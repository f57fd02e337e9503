package openbook

import (
	"github.com/gagliardetto/solana-go"
)

// Market is one created order book and every account the bootstrap produced
// for it. Index 0 of the mint list is always its quote mint.
type Market struct {
	Name        string
	Admin       solana.PrivateKey
	MarketPK    solana.PublicKey
	OracleA     solana.PublicKey
	OracleB     solana.PublicKey
	Asks        solana.PublicKey
	Bids        solana.PublicKey
	EventQueue  solana.PublicKey
	BaseVault   solana.PublicKey
	QuoteVault  solana.PublicKey
	BaseMint    solana.PublicKey
	QuoteMint   solana.PublicKey
	MarketIndex int
	Price       int64
}

// KnownAccounts lists the market's addresses in output order.
func (m Market) KnownAccounts() []solana.PublicKey {
	return []solana.PublicKey{
		m.Asks,
		m.Bids,
		m.MarketPK,
		m.OracleA,
		m.OracleB,
		m.QuoteVault,
		m.BaseVault,
		m.BaseMint,
		m.QuoteMint,
	}
}
