package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Submitter is the capability set the provisioning steps need from the
// cluster: submit and confirm instructions, fund accounts, read balances.
type Submitter interface {
	// Send builds one transaction paid by payer, signs it with payer and
	// extraSigners, submits it and waits for confirmation.
	Send(ctx context.Context, payer solana.PrivateKey, instructions []solana.Instruction, extraSigners ...solana.PrivateKey) (solana.Signature, error)
	Airdrop(ctx context.Context, to solana.PublicKey, lamports uint64) error
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	RentExemption(ctx context.Context, size uint64) (uint64, error)
	IsExecutable(ctx context.Context, account solana.PublicKey) (bool, error)
}

type Options struct {
	RPCURL        string
	WSURL         string
	Commitment    rpc.CommitmentType
	TxTimeout     time.Duration
	SkipPreflight bool
	Retry         RetryPolicy
}

type Client struct {
	opts        Options
	rpc         *rpc.Client
	blockhashes *BlockhashCache
	ws          *wsConfirmer
	logger      *slog.Logger
}

var _ Submitter = (*Client)(nil)

const confirmPollInterval = 700 * time.Millisecond

func New(opts Options, logger *slog.Logger) *Client {
	c := &Client{
		opts:   opts,
		rpc:    rpc.New(opts.RPCURL),
		logger: logger,
	}
	if opts.WSURL != "" {
		c.ws = newWSConfirmer(opts.WSURL, opts.Commitment)
	}
	c.blockhashes = newBlockhashCache(c.fetchLatestBlockhash, 30*time.Second, logger)
	return c
}

// Start keeps the shared blockhash fresh until the returned stop func is
// called.
func (c *Client) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.blockhashes.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (c *Client) fetchLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return withRetry(ctx, c.opts.Retry, c.logger, "getLatestBlockhash", func(ctx context.Context) (solana.Hash, error) {
		recent, err := c.rpc.GetLatestBlockhash(ctx, c.opts.Commitment)
		if err != nil {
			return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
		}
		return recent.Value.Blockhash, nil
	})
}

func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return withRetry(ctx, c.opts.Retry, c.logger, "getBalance", func(ctx context.Context) (uint64, error) {
		out, err := c.rpc.GetBalance(ctx, account, c.opts.Commitment)
		if err != nil {
			return 0, fmt.Errorf("get balance of %s: %w", account, err)
		}
		return out.Value, nil
	})
}

func (c *Client) RentExemption(ctx context.Context, size uint64) (uint64, error) {
	return withRetry(ctx, c.opts.Retry, c.logger, "getMinimumBalanceForRentExemption", func(ctx context.Context) (uint64, error) {
		lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.opts.Commitment)
		if err != nil {
			return 0, fmt.Errorf("get rent exemption for %d bytes: %w", size, err)
		}
		return lamports, nil
	})
}

func (c *Client) IsExecutable(ctx context.Context, account solana.PublicKey) (bool, error) {
	return withRetry(ctx, c.opts.Retry, c.logger, "getAccountInfo", func(ctx context.Context) (bool, error) {
		resp, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{Commitment: c.opts.Commitment})
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("get account %s: %w", account, err)
		}
		if resp == nil || resp.Value == nil {
			return false, nil
		}
		return resp.Value.Executable, nil
	})
}

func (c *Client) Airdrop(ctx context.Context, to solana.PublicKey, lamports uint64) error {
	txCtx, cancel := context.WithTimeout(ctx, c.opts.TxTimeout)
	defer cancel()

	sig, err := c.rpc.RequestAirdrop(txCtx, to, lamports, c.opts.Commitment)
	if err != nil {
		return fmt.Errorf("request airdrop of %d lamports to %s: %w", lamports, to, classifyReadError(err))
	}
	if err := c.waitForConfirmation(txCtx, sig, nil); err != nil {
		return fmt.Errorf("confirm airdrop %s: %w", sig, err)
	}
	return nil
}

func (c *Client) Send(ctx context.Context, payer solana.PrivateKey, instructions []solana.Instruction, extraSigners ...solana.PrivateKey) (solana.Signature, error) {
	txCtx, cancel := context.WithTimeout(ctx, c.opts.TxTimeout)
	defer cancel()

	sig, err := c.sendTransaction(txCtx, payer, instructions, extraSigners)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := c.waitForConfirmation(txCtx, sig, instructions); err != nil {
		return sig, fmt.Errorf("confirm %s: %w", sig, err)
	}
	return sig, nil
}

func (c *Client) sendTransaction(ctx context.Context, payer solana.PrivateKey, instructions []solana.Instruction, extraSigners []solana.PrivateKey) (solana.Signature, error) {
	recent, err := c.blockhashes.Get(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	signers := make(map[solana.PublicKey]*solana.PrivateKey, len(extraSigners)+1)
	signers[payer.PublicKey()] = &payer
	for i := range extraSigners {
		signers[extraSigners[i].PublicKey()] = &extraSigners[i]
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		return signers[key]
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       c.opts.SkipPreflight,
		PreflightCommitment: c.opts.Commitment,
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", classifySendError(err, instructions))
	}
	c.logger.Debug("transaction sent", "signature", sig, "payer", payer.PublicKey(), "instructions", len(instructions))
	return sig, nil
}

// waitForConfirmation resolves once sig reaches confirmed or finalized
// status. With a websocket endpoint the subscription runs alongside the
// status poll; either may settle first.
func (c *Client) waitForConfirmation(ctx context.Context, sig solana.Signature, instructions []solana.Instruction) error {
	var outcomes <-chan signatureOutcome
	if c.ws != nil {
		subCtx, cancelSub := context.WithCancel(ctx)
		defer cancelSub()
		outcomes = c.ws.watch(subCtx, sig)
	}

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		case outcome := <-outcomes:
			if outcome.err != nil {
				c.logger.Debug("signature subscription unavailable, polling", "signature", sig, "err", outcome.err)
				outcomes = nil
				continue
			}
			if outcome.txErr != nil {
				return newInstructionError(sig, instructions, outcome.txErr)
			}
			return nil
		case <-ticker.C:
			result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return newInstructionError(sig, instructions, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
