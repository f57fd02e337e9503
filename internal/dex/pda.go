package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// OpenOrdersAccountIndex is the sub-account index every simulated user
// registers under.
const OpenOrdersAccountIndex = uint32(1)

func DeriveStubOraclePDA(programID solana.PublicKey, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("StubOracle"), mint.Bytes()}, programID)
}

func DeriveMarketAuthorityPDA(programID solana.PublicKey, market solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("Market"), market.Bytes()}, programID)
}

func DeriveOpenOrdersIndexerPDA(programID, owner, market solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("OpenOrdersIndexer"), owner.Bytes(), market.Bytes()}, programID)
}

func DeriveOpenOrdersPDA(programID, owner, market solana.PublicKey, accountIndex uint32) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("OpenOrders"), owner.Bytes(), market.Bytes(), u32LE(accountIndex)}, programID)
}

func MustDeriveStubOraclePDA(programID solana.PublicKey, mint solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveStubOraclePDA(programID, mint)
	if err != nil {
		panic(fmt.Errorf("derive stub oracle PDA: %w", err))
	}
	return pk
}

func u32LE(value uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return buf
}
