package chain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/require"
)

func testInstruction(program solana.PublicKey, accounts ...solana.PublicKey) solana.Instruction {
	metas := make(solana.AccountMetaSlice, 0, len(accounts))
	for _, account := range accounts {
		metas = append(metas, solana.NewAccountMeta(account, true, false))
	}
	return solana.NewInstruction(program, metas, []byte{1})
}

func TestClassifySendErrorPreflightFailure(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	shared := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	instructions := []solana.Instruction{
		testInstruction(program, shared),
		testInstruction(program, shared, other),
	}

	err := classifySendError(&jsonrpc.RPCError{Code: rpcCodeSendTransactionPreflightFailure, Message: "custom program error: 0x1"}, instructions)
	require.ErrorIs(t, err, ErrInstructionRejected)
	require.False(t, IsTransient(err))

	var ixErr *InstructionError
	require.ErrorAs(t, err, &ixErr)
	require.Equal(t, []solana.PublicKey{program, program}, ixErr.Programs)
	require.Equal(t, []solana.PublicKey{shared, other}, ixErr.Accounts)
	require.Contains(t, ixErr.Error(), "<unsent>")
	require.Contains(t, ixErr.Error(), "custom program error")
}

func TestClassifySendErrorTransient(t *testing.T) {
	cases := map[string]error{
		"expired blockhash": &jsonrpc.RPCError{Code: rpcCodeSendTransactionPreflightFailure, Message: "Blockhash not found"},
		"node unhealthy":    &jsonrpc.RPCError{Code: rpcCodeNodeUnhealthy, Message: "node is behind"},
		"url error":         &url.Error{Op: "Post", URL: "http://127.0.0.1:8899", Err: errors.New("dial tcp")},
		"deadline":          fmt.Errorf("send: %w", context.DeadlineExceeded),
		"rate limited":      errors.New("429 Too Many Requests"),
	}
	for name, cause := range cases {
		t.Run(name, func(t *testing.T) {
			require.True(t, IsTransient(classifySendError(cause, nil)))
		})
	}
}

func TestClassifyReadError(t *testing.T) {
	require.NoError(t, classifyReadError(nil))
	require.ErrorIs(t, classifyReadError(context.Canceled), context.Canceled)
	require.False(t, IsTransient(classifyReadError(context.Canceled)))

	definitive := &jsonrpc.RPCError{Code: -32602, Message: "invalid params"}
	require.False(t, IsTransient(classifyReadError(definitive)))
	require.True(t, IsTransient(classifyReadError(errors.New("read: connection reset by peer"))))
}

func TestInstructionErrorWithSignature(t *testing.T) {
	sig := solana.Signature{1, 2, 3}
	err := newInstructionError(sig, nil, map[string]any{"InstructionError": []any{0, "Custom"}})
	require.Contains(t, err.Error(), sig.String())
	require.True(t, errors.Is(err, ErrInstructionRejected))
}
