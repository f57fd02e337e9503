// Package chaintest provides an in-memory chain.Submitter that records every
// call so provisioning code can be asserted on without a validator.
package chaintest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/openbook-dex/openbook-v2-simulation/internal/chain"
)

// Sent is one recorded transaction.
type Sent struct {
	Signature    solana.Signature
	Payer        solana.PublicKey
	Signers      []solana.PublicKey
	Instructions []solana.Instruction
}

// Call is one recorded instruction with its decoded data bytes.
type Call struct {
	Tx        int
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// ErrMissingSigner is returned by Send when an instruction requires a
// signature that neither the payer nor the extra signers provide.
var ErrMissingSigner = errors.New("missing signer")

type Airdrop struct {
	To       solana.PublicKey
	Lamports uint64
}

type Submitter struct {
	mu         sync.Mutex
	sent       []Sent
	airdrops   []Airdrop
	balances   map[solana.PublicKey]uint64
	executable map[solana.PublicKey]bool
	counter    uint64

	// FailSend, when set, is consulted before a transaction is recorded; a
	// non-nil result is returned from Send.
	FailSend func(instructions []solana.Instruction) error
	// RentPerByte drives RentExemption; zero means 1 lamport per byte.
	RentPerByte uint64
}

var _ chain.Submitter = (*Submitter)(nil)

func New() *Submitter {
	return &Submitter{
		balances:   make(map[solana.PublicKey]uint64),
		executable: make(map[solana.PublicKey]bool),
	}
}

func (s *Submitter) SetBalance(account solana.PublicKey, lamports uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = lamports
}

func (s *Submitter) SetExecutable(account solana.PublicKey, executable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executable[account] = executable
}

func (s *Submitter) Send(ctx context.Context, payer solana.PrivateKey, instructions []solana.Instruction, extraSigners ...solana.PrivateKey) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if s.FailSend != nil {
		if err := s.FailSend(instructions); err != nil {
			return solana.Signature{}, err
		}
	}

	signers := make([]solana.PublicKey, 0, len(extraSigners)+1)
	signers = append(signers, payer.PublicKey())
	for _, signer := range extraSigners {
		signers = append(signers, signer.PublicKey())
	}
	if err := checkSigners(instructions, signers); err != nil {
		return solana.Signature{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	sig := fakeSignature(s.counter)
	s.sent = append(s.sent, Sent{
		Signature:    sig,
		Payer:        payer.PublicKey(),
		Signers:      signers,
		Instructions: instructions,
	})
	return sig, nil
}

// checkSigners mirrors the signing step of a real transaction: every account
// flagged as signer must have a key among signers.
func checkSigners(instructions []solana.Instruction, signers []solana.PublicKey) error {
	for _, ix := range instructions {
		for _, meta := range ix.Accounts() {
			if meta == nil || !meta.IsSigner {
				continue
			}
			found := false
			for _, signer := range signers {
				if signer.Equals(meta.PublicKey) {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: %s for program %s", ErrMissingSigner, meta.PublicKey, ix.ProgramID())
			}
		}
	}
	return nil
}

func (s *Submitter) Airdrop(ctx context.Context, to solana.PublicKey, lamports uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.airdrops = append(s.airdrops, Airdrop{To: to, Lamports: lamports})
	s.balances[to] += lamports
	return nil
}

func (s *Submitter) Balance(_ context.Context, account solana.PublicKey) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account], nil
}

func (s *Submitter) RentExemption(_ context.Context, size uint64) (uint64, error) {
	perByte := s.RentPerByte
	if perByte == 0 {
		perByte = 1
	}
	return size * perByte, nil
}

func (s *Submitter) IsExecutable(_ context.Context, account solana.PublicKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executable[account], nil
}

func (s *Submitter) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Submitter) Airdrops() []Airdrop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Airdrop(nil), s.airdrops...)
}

// Calls flattens every recorded transaction into its instructions, in send
// order.
func (s *Submitter) Calls() []Call {
	var out []Call
	for i, tx := range s.Sent() {
		for _, ix := range tx.Instructions {
			data, err := ix.Data()
			if err != nil {
				panic(err)
			}
			accounts := make([]solana.PublicKey, 0, len(ix.Accounts()))
			for _, meta := range ix.Accounts() {
				accounts = append(accounts, meta.PublicKey)
			}
			out = append(out, Call{Tx: i, ProgramID: ix.ProgramID(), Accounts: accounts, Data: data})
		}
	}
	return out
}

// CallsTo returns the calls to programID whose data starts with prefix. An
// empty prefix matches every call to the program.
func (s *Submitter) CallsTo(programID solana.PublicKey, prefix []byte) []Call {
	var out []Call
	for _, call := range s.Calls() {
		if !call.ProgramID.Equals(programID) {
			continue
		}
		if !bytes.HasPrefix(call.Data, prefix) {
			continue
		}
		out = append(out, call)
	}
	return out
}

func fakeSignature(n uint64) solana.Signature {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], n)
	sum := sha256.Sum256(seed[:])
	var sig solana.Signature
	copy(sig[:32], sum[:])
	copy(sig[32:], sum[:])
	return sig
}
