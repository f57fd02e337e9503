package chaintest

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/require"
)

func TestSendRequiresEverySigner(t *testing.T) {
	fake := New()
	payer := solana.NewWallet().PrivateKey
	account := solana.NewWallet().PrivateKey

	createIx, err := system.NewCreateAccountInstruction(1, 82, solana.TokenProgramID, payer.PublicKey(), account.PublicKey()).ValidateAndBuild()
	require.NoError(t, err)

	_, err = fake.Send(context.Background(), payer, []solana.Instruction{createIx})
	require.ErrorIs(t, err, ErrMissingSigner)
	require.Empty(t, fake.Sent())

	sig, err := fake.Send(context.Background(), payer, []solana.Instruction{createIx}, account)
	require.NoError(t, err)
	sent := fake.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, sig, sent[0].Signature)
	require.Equal(t, []solana.PublicKey{payer.PublicKey(), account.PublicKey()}, sent[0].Signers)
}
