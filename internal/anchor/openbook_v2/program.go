// Package openbook_v2 is the client for the subset of the openbook_v2
// program used to bootstrap test environments.
package openbook_v2

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var ProgramID = solana.MustPublicKeyFromBase58("opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb")

func SetProgramID(pubkey solana.PublicKey) {
	ProgramID = pubkey
}

// Account sizes of the raw book storage accounts. The program rejects
// market creation when they differ.
const (
	BookSideSize   = 123720
	EventQueueSize = 101592
)

var (
	Instruction_StubOracleCreate        = sighash("stub_oracle_create")
	Instruction_StubOracleSet           = sighash("stub_oracle_set")
	Instruction_CreateMarket            = sighash("create_market")
	Instruction_CreateOpenOrdersIndexer = sighash("create_open_orders_indexer")
	Instruction_CreateOpenOrdersAccount = sighash("create_open_orders_account")
	Instruction_PlaceOrder              = sighash("place_order")
)

var ErrDiscriminatorMismatch = errors.New("instruction discriminator mismatch")

var instructionNames = map[[8]byte]string{
	Instruction_StubOracleCreate:        "StubOracleCreate",
	Instruction_StubOracleSet:           "StubOracleSet",
	Instruction_CreateMarket:            "CreateMarket",
	Instruction_CreateOpenOrdersIndexer: "CreateOpenOrdersIndexer",
	Instruction_CreateOpenOrdersAccount: "CreateOpenOrdersAccount",
	Instruction_PlaceOrder:              "PlaceOrder",
}

// InstructionIDToName resolves the 8-byte discriminator at the head of data.
func InstructionIDToName(data []byte) string {
	if len(data) < 8 {
		return ""
	}
	var id [8]byte
	copy(id[:], data[:8])
	return instructionNames[id]
}

func sighash(ixName string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + ixName))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

func checkDiscriminator(data []byte, want [8]byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: data too short (%d bytes)", ErrDiscriminatorMismatch, len(data))
	}
	if !bytes.Equal(data[:8], want[:]) {
		return fmt.Errorf("%w: got %x, want %x", ErrDiscriminatorMismatch, data[:8], want)
	}
	return nil
}

// optionalAccount encodes an absent anchor optional account as the program
// id, which is how anchor clients express None.
func optionalAccount(key *solana.PublicKey) *solana.AccountMeta {
	if key == nil {
		return solana.NewAccountMeta(ProgramID, false, false)
	}
	return solana.NewAccountMeta(*key, false, false)
}
