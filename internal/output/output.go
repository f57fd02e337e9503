package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"

	"github.com/openbook-dex/openbook-v2-simulation/internal/config"
	"github.com/openbook-dex/openbook-v2-simulation/internal/openbook"
	"github.com/openbook-dex/openbook-v2-simulation/internal/users"
)

// ByteArray is secret key material serialized as a JSON array of numbers,
// the layout solana keypair files use.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return json.Marshal(out)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]byte, len(raw))
	for i, v := range raw {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

type Program struct {
	Name      string           `json:"name"`
	ProgramID solana.PublicKey `json:"program_id"`
}

type Market struct {
	Name        string           `json:"name"`
	Admin       ByteArray        `json:"admin"`
	MarketPK    solana.PublicKey `json:"market_pk"`
	OracleA     solana.PublicKey `json:"oracleA"`
	OracleB     solana.PublicKey `json:"oracleB"`
	Asks        solana.PublicKey `json:"asks"`
	Bids        solana.PublicKey `json:"bids"`
	EventQueue  solana.PublicKey `json:"event_queue"`
	BaseVault   solana.PublicKey `json:"base_vault"`
	QuoteVault  solana.PublicKey `json:"quote_vault"`
	BaseMint    solana.PublicKey `json:"base_mint"`
	QuoteMint   solana.PublicKey `json:"quote_mint"`
	MarketIndex int              `json:"market_index"`
	Price       int64            `json:"price"`
}

type User struct {
	Secret     ByteArray            `json:"secret"`
	OpenOrders []users.OpenOrders   `json:"open_orders"`
	TokenData  []users.TokenAccount `json:"token_data"`
}

// File is the document handed to downstream test tooling.
type File struct {
	Programs      []Program          `json:"programs"`
	KnownAccounts []solana.PublicKey `json:"known_accounts"`
	Users         []User             `json:"users"`
	Mints         []solana.PublicKey `json:"mints"`
	Markets       []Market           `json:"markets"`
}

// Build assembles the output document. Known accounts list every market's
// accounts first, then every user's open-orders accounts followed by its
// token accounts.
func Build(programs []config.ProgramDescriptor, mints []solana.PublicKey, markets []openbook.Market, simulated []users.User) File {
	out := File{
		Programs:      make([]Program, 0, len(programs)),
		KnownAccounts: make([]solana.PublicKey, 0, len(markets)*9),
		Users:         make([]User, 0, len(simulated)),
		Mints:         append(make([]solana.PublicKey, 0, len(mints)), mints...),
		Markets:       make([]Market, 0, len(markets)),
	}
	for _, program := range programs {
		out.Programs = append(out.Programs, Program{Name: program.Name, ProgramID: program.ProgramID})
	}

	for _, market := range markets {
		out.KnownAccounts = append(out.KnownAccounts, market.KnownAccounts()...)
		out.Markets = append(out.Markets, Market{
			Name:        market.Name,
			Admin:       ByteArray(market.Admin),
			MarketPK:    market.MarketPK,
			OracleA:     market.OracleA,
			OracleB:     market.OracleB,
			Asks:        market.Asks,
			Bids:        market.Bids,
			EventQueue:  market.EventQueue,
			BaseVault:   market.BaseVault,
			QuoteVault:  market.QuoteVault,
			BaseMint:    market.BaseMint,
			QuoteMint:   market.QuoteMint,
			MarketIndex: market.MarketIndex,
			Price:       market.Price,
		})
	}

	for _, user := range simulated {
		for _, oo := range user.OpenOrders {
			out.KnownAccounts = append(out.KnownAccounts, oo.OpenOrders)
		}
		for _, ta := range user.TokenData {
			out.KnownAccounts = append(out.KnownAccounts, ta.TokenAccount)
		}
		out.Users = append(out.Users, User{
			Secret:     ByteArray(user.Key),
			OpenOrders: append([]users.OpenOrders{}, user.OpenOrders...),
			TokenData:  append([]users.TokenAccount{}, user.TokenData...),
		})
	}
	return out
}

// Write serializes f with two-space indentation, replacing path.
func Write(path string, f File) error {
	body, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory %q: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return fmt.Errorf("write output %q: %w", path, err)
	}
	return nil
}

func Read(path string) (File, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read output %q: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(body, &f); err != nil {
		return File{}, fmt.Errorf("decode output %q: %w", path, err)
	}
	return f, nil
}
