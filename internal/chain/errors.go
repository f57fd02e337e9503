package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrTransient marks failures worth retrying: the request may not have
	// reached the node or the node was temporarily unable to serve it.
	ErrTransient = errors.New("transient rpc error")
	// ErrInstructionRejected marks a transaction refused by the runtime or
	// by a program, during preflight or on-chain.
	ErrInstructionRejected = errors.New("instruction rejected")
)

// JSON-RPC codes the solana node uses for preflight and execution failures.
const (
	rpcCodeSendTransactionPreflightFailure = -32002
	rpcCodeNodeUnhealthy                   = -32005
)

type InstructionError struct {
	Signature solana.Signature
	Programs  []solana.PublicKey
	Accounts  []solana.PublicKey
	Cause     any
}

func (e *InstructionError) Error() string {
	programs := make([]string, 0, len(e.Programs))
	for _, program := range e.Programs {
		programs = append(programs, program.String())
	}
	accounts := make([]string, 0, len(e.Accounts))
	for _, account := range e.Accounts {
		accounts = append(accounts, account.String())
	}
	sig := "<unsent>"
	if e.Signature != (solana.Signature{}) {
		sig = e.Signature.String()
	}
	return fmt.Sprintf("%v: signature=%s programs=[%s] accounts=[%s]: %v",
		ErrInstructionRejected, sig, strings.Join(programs, ","), strings.Join(accounts, ","), e.Cause)
}

func (e *InstructionError) Unwrap() error {
	return ErrInstructionRejected
}

func newInstructionError(sig solana.Signature, instructions []solana.Instruction, cause any) *InstructionError {
	out := &InstructionError{Signature: sig, Cause: cause}
	seen := make(map[solana.PublicKey]struct{})
	for _, ix := range instructions {
		out.Programs = append(out.Programs, ix.ProgramID())
		accounts := ix.Accounts()
		for _, meta := range accounts {
			if meta == nil {
				continue
			}
			if _, ok := seen[meta.PublicKey]; ok {
				continue
			}
			seen[meta.PublicKey] = struct{}{}
			out.Accounts = append(out.Accounts, meta.PublicKey)
		}
	}
	return out
}

// IsTransient reports whether err was classified as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// classifyReadError tags errors of read-only calls so the retry loop can
// tell network trouble apart from definitive answers.
func classifyReadError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTransientCause(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// classifySendError maps a sendTransaction failure. Preflight rejections
// carry the instruction list; everything else keeps its transient tag so
// the caller can report it, but sends are never retried.
func classifySendError(err error, instructions []solana.Instruction) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case rpcCodeSendTransactionPreflightFailure:
			// An expired blockhash surfaces as a preflight failure but says
			// nothing about the instructions.
			if strings.Contains(strings.ToLower(rpcErr.Message), "blockhash not found") {
				return fmt.Errorf("%w: %v", ErrTransient, err)
			}
			return newInstructionError(solana.Signature{}, instructions, rpcErr)
		case rpcCodeNodeUnhealthy:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return classifyReadError(err)
}

func isTransientCause(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == rpcCodeNodeUnhealthy
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "eof", "too many requests", "503", "502", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
