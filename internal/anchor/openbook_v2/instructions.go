package openbook_v2

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type marshaler interface {
	MarshalWithEncoder(encoder *bin.Encoder) error
}

func encodeInstructionData(discriminator [8]byte, args ...marshaler) ([]byte, error) {
	buf := new(bytes.Buffer)
	encoder := bin.NewBorshEncoder(buf)
	if err := encoder.WriteBytes(discriminator[:], false); err != nil {
		return nil, err
	}
	for _, arg := range args {
		if err := arg.MarshalWithEncoder(encoder); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeInstructionData(data []byte, discriminator [8]byte, dst interface {
	UnmarshalWithDecoder(decoder *bin.Decoder) error
}) error {
	if err := checkDiscriminator(data, discriminator); err != nil {
		return err
	}
	decoder := bin.NewBorshDecoder(data[8:])
	if err := dst.UnmarshalWithDecoder(decoder); err != nil {
		return err
	}
	if decoder.Remaining() != 0 {
		return fmt.Errorf("%d trailing bytes after instruction args", decoder.Remaining())
	}
	return nil
}

func NewStubOracleCreateInstruction(
	price I80F48,
	payer solana.PublicKey,
	oracle solana.PublicKey,
	mint solana.PublicKey,
) (solana.Instruction, error) {
	data, err := encodeInstructionData(Instruction_StubOracleCreate, price)
	if err != nil {
		return nil, fmt.Errorf("encode stub_oracle_create: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(oracle, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(ProgramID, accounts, data), nil
}

func NewStubOracleSetInstruction(
	price I80F48,
	oracle solana.PublicKey,
) (solana.Instruction, error) {
	data, err := encodeInstructionData(Instruction_StubOracleSet, price)
	if err != nil {
		return nil, fmt.Errorf("encode stub_oracle_set: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(oracle, true, false),
	}
	return solana.NewInstruction(ProgramID, accounts, data), nil
}

// ParseStubOracleSetPrice returns the price carried by a stub_oracle_set
// instruction's data.
func ParseStubOracleSetPrice(data []byte) (I80F48, error) {
	var price I80F48
	if err := decodeInstructionData(data, Instruction_StubOracleSet, &price); err != nil {
		return I80F48{}, err
	}
	return price, nil
}

type CreateMarketAccounts struct {
	Market             solana.PublicKey
	MarketAuthority    solana.PublicKey
	Bids               solana.PublicKey
	Asks               solana.PublicKey
	EventQueue         solana.PublicKey
	Payer              solana.PublicKey
	BaseVault          solana.PublicKey
	QuoteVault         solana.PublicKey
	BaseMint           solana.PublicKey
	QuoteMint          solana.PublicKey
	OracleA            solana.PublicKey
	OracleB            solana.PublicKey
	CollectFeeAdmin    solana.PublicKey
	OpenOrdersAdmin    *solana.PublicKey
	ConsumeEventsAdmin *solana.PublicKey
	CloseMarketAdmin   *solana.PublicKey
}

func NewCreateMarketInstruction(args CreateMarketArgs, accs CreateMarketAccounts) (solana.Instruction, error) {
	data, err := encodeInstructionData(Instruction_CreateMarket, args)
	if err != nil {
		return nil, fmt.Errorf("encode create_market: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(accs.Market, true, true),
		solana.NewAccountMeta(accs.MarketAuthority, false, false),
		solana.NewAccountMeta(accs.Bids, true, false),
		solana.NewAccountMeta(accs.Asks, true, false),
		solana.NewAccountMeta(accs.EventQueue, true, false),
		solana.NewAccountMeta(accs.Payer, true, true),
		solana.NewAccountMeta(accs.BaseVault, false, false),
		solana.NewAccountMeta(accs.QuoteVault, false, false),
		solana.NewAccountMeta(accs.BaseMint, false, false),
		solana.NewAccountMeta(accs.QuoteMint, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(accs.OracleA, false, false),
		solana.NewAccountMeta(accs.OracleB, false, false),
		solana.NewAccountMeta(accs.CollectFeeAdmin, false, false),
		optionalAccount(accs.OpenOrdersAdmin),
		optionalAccount(accs.ConsumeEventsAdmin),
		optionalAccount(accs.CloseMarketAdmin),
	}
	return solana.NewInstruction(ProgramID, accounts, data), nil
}

func ParseCreateMarketArgs(data []byte) (*CreateMarketArgs, error) {
	args := new(CreateMarketArgs)
	if err := decodeInstructionData(data, Instruction_CreateMarket, args); err != nil {
		return nil, err
	}
	return args, nil
}

func NewCreateOpenOrdersIndexerInstruction(
	payer solana.PublicKey,
	owner solana.PublicKey,
	openOrdersIndexer solana.PublicKey,
	market solana.PublicKey,
) (solana.Instruction, error) {
	data, err := encodeInstructionData(Instruction_CreateOpenOrdersIndexer)
	if err != nil {
		return nil, fmt.Errorf("encode create_open_orders_indexer: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(owner, false, true),
		solana.NewAccountMeta(openOrdersIndexer, true, false),
		solana.NewAccountMeta(market, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(ProgramID, accounts, data), nil
}

func NewCreateOpenOrdersAccountInstruction(
	payer solana.PublicKey,
	owner solana.PublicKey,
	delegateAccount *solana.PublicKey,
	openOrdersIndexer solana.PublicKey,
	openOrdersAccount solana.PublicKey,
	market solana.PublicKey,
) (solana.Instruction, error) {
	data, err := encodeInstructionData(Instruction_CreateOpenOrdersAccount)
	if err != nil {
		return nil, fmt.Errorf("encode create_open_orders_account: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(owner, false, true),
		optionalAccount(delegateAccount),
		solana.NewAccountMeta(openOrdersIndexer, true, false),
		solana.NewAccountMeta(openOrdersAccount, true, false),
		solana.NewAccountMeta(market, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(ProgramID, accounts, data), nil
}

type PlaceOrderAccounts struct {
	Signer            solana.PublicKey
	OpenOrdersAccount solana.PublicKey
	OpenOrdersAdmin   *solana.PublicKey
	UserTokenAccount  solana.PublicKey
	Market            solana.PublicKey
	Bids              solana.PublicKey
	Asks              solana.PublicKey
	EventQueue        solana.PublicKey
	MarketVault       solana.PublicKey
	OracleA           solana.PublicKey
	OracleB           solana.PublicKey
}

func NewPlaceOrderInstruction(args PlaceOrderArgs, accs PlaceOrderAccounts) (solana.Instruction, error) {
	data, err := encodeInstructionData(Instruction_PlaceOrder, args)
	if err != nil {
		return nil, fmt.Errorf("encode place_order: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(accs.Signer, false, true),
		solana.NewAccountMeta(accs.OpenOrdersAccount, true, false),
		optionalAccount(accs.OpenOrdersAdmin),
		solana.NewAccountMeta(accs.UserTokenAccount, true, false),
		solana.NewAccountMeta(accs.Market, true, false),
		solana.NewAccountMeta(accs.Bids, true, false),
		solana.NewAccountMeta(accs.Asks, true, false),
		solana.NewAccountMeta(accs.EventQueue, true, false),
		solana.NewAccountMeta(accs.MarketVault, true, false),
		solana.NewAccountMeta(accs.OracleA, false, false),
		solana.NewAccountMeta(accs.OracleB, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(ProgramID, accounts, data), nil
}

func ParsePlaceOrderArgs(data []byte) (*PlaceOrderArgs, error) {
	args := new(PlaceOrderArgs)
	if err := decodeInstructionData(data, Instruction_PlaceOrder, args); err != nil {
		return nil, err
	}
	return args, nil
}
