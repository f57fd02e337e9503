package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/openbook-dex/openbook-v2-simulation/internal/chain"
	"github.com/openbook-dex/openbook-v2-simulation/internal/config"
	"github.com/openbook-dex/openbook-v2-simulation/internal/mint"
	"github.com/openbook-dex/openbook-v2-simulation/internal/openbook"
	"github.com/openbook-dex/openbook-v2-simulation/internal/output"
	"github.com/openbook-dex/openbook-v2-simulation/internal/store"
	"github.com/openbook-dex/openbook-v2-simulation/internal/users"
)

// balanceReserveSOL is the headroom expected on top of the users' funding to
// cover mints, oracles and book accounts.
const balanceReserveSOL = 100

var ErrProgramNotDeployed = errors.New("program not deployed")

// RunRecorder persists a finished run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run store.Run, doc output.File) (int64, error)
	Close() error
}

type backgroundRunner interface {
	Start(ctx context.Context) (stop func())
}

type Service struct {
	cfg       config.ConfigureConfig
	chain     chain.Submitter
	authority solana.PrivateKey
	programs  []config.ProgramDescriptor
	openbook  config.ProgramDescriptor
	logger    *slog.Logger

	openRecorder func(ctx context.Context, dsn string) (RunRecorder, error)
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
}

func New(cfg config.ConfigureConfig, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	authority, err := config.LoadAuthority(cfg.AuthorityPath)
	if err != nil {
		return nil, err
	}
	programs, err := config.LoadProgramRegistry(cfg.ProgramsPath, cfg.ProgramsPathExplicit)
	if err != nil {
		return nil, err
	}

	client := chain.New(chain.Options{
		RPCURL:        cfg.RPCURL,
		WSURL:         cfg.WSURL,
		Commitment:    cfg.Commitment,
		TxTimeout:     cfg.TxTimeout,
		SkipPreflight: cfg.SkipPreflight,
		Retry: chain.RetryPolicy{
			MaxRetries: cfg.RPCMaxRetries,
			BaseDelay:  cfg.RPCRetryBaseDelay,
			MaxDelay:   cfg.RPCRetryMaxDelay,
		},
	}, logger)
	return newService(cfg, client, authority, programs, logger)
}

func newService(cfg config.ConfigureConfig, submitter chain.Submitter, authority solana.PrivateKey, programs []config.ProgramDescriptor, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	openbookProgram, err := config.FindProgram(programs, config.OpenbookV2ProgramName)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		chain:     submitter,
		authority: authority,
		programs:  programs,
		openbook:  openbookProgram,
		logger:    logger,
		openRecorder: func(ctx context.Context, dsn string) (RunRecorder, error) {
			st, err := store.Open(ctx, dsn)
			if err != nil {
				return nil, err
			}
			return st, nil
		},
		sleep: sleepContext,
		now:   time.Now,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	startedAt := s.now()
	if runner, ok := s.chain.(backgroundRunner); ok {
		stop := runner.Start(ctx)
		defer stop()
	}

	s.logger.Info("configuring a new test instance",
		"rpc", s.cfg.RPCURL,
		"authority", s.authority.PublicKey(),
		"payers", s.cfg.NbPayers,
		"mints", s.cfg.NbMints,
		"orders_per_side", s.cfg.OrdersPerSide,
	)

	if err := s.checkAuthorityBalance(ctx); err != nil {
		return err
	}
	for _, program := range s.programs {
		s.logger.Info("program", "name", program.Name, "program_id", program.ProgramID)
	}
	if !s.cfg.SkipProgramDeployment {
		if err := s.checkProgramsDeployed(ctx); err != nil {
			return err
		}
	}

	tokens := mint.New(s.chain, s.authority, s.cfg.MintDecimals, s.logger)
	configurator := openbook.NewConfigurator(s.chain, s.authority, tokens, openbook.Options{
		ProgramID:        s.openbook.ProgramID,
		ComputeUnitLimit: s.cfg.ComputeUnitLimit,
	}, s.logger)
	provisioner := users.NewProvisioner(s.chain, s.authority, tokens, s.logger)

	s.logger.Info("creating mints", "count", s.cfg.NbMints)
	mints, err := tokens.CreateMints(ctx, s.cfg.NbMints)
	if err != nil {
		return fmt.Errorf("create mints: %w", err)
	}
	s.logger.Info("mints created", "quote_mint", mints[0], "count", len(mints))

	if err := s.sleep(ctx, s.cfg.PostMintDelay); err != nil {
		return err
	}

	s.logger.Info("configuring openbook-v2", "program_id", s.openbook.ProgramID, "markets", len(mints)-1)
	markets, err := configurator.ConfigureMarkets(ctx, mints)
	if err != nil {
		return fmt.Errorf("configure markets: %w", err)
	}
	s.logger.Info("finished configuring openbook", "markets", len(markets))

	simulated, err := s.provisionUsers(ctx, provisioner, configurator, mints, markets)
	if err != nil {
		return err
	}

	doc := output.Build(s.programs, mints, markets, simulated)
	s.logger.Info("creating output file", "path", s.cfg.OutputFile, "known_accounts", len(doc.KnownAccounts))
	if err := output.Write(s.cfg.OutputFile, doc); err != nil {
		return err
	}

	if s.cfg.DBDSN != "" {
		if err := s.recordRun(ctx, startedAt, doc); err != nil {
			return err
		}
	}

	s.logger.Info("configuration finished",
		"mints", len(doc.Mints),
		"markets", len(doc.Markets),
		"users", len(doc.Users),
		"elapsed", s.now().Sub(startedAt).String(),
	)
	return nil
}

// provisionUsers creates users batch by batch. Within a batch every user is
// funded, then registered on every market, then fills every book.
func (s *Service) provisionUsers(
	ctx context.Context,
	provisioner *users.Provisioner,
	configurator *openbook.Configurator,
	mints []solana.PublicKey,
	markets []openbook.Market,
) ([]users.User, error) {
	batchSize := s.cfg.UserBatchSize
	s.logger.Info("creating users", "count", s.cfg.NbPayers, "batch_size", batchSize)

	out := make([]users.User, 0, s.cfg.NbPayers)
	for start := 0; start < s.cfg.NbPayers; start += batchSize {
		count := min(batchSize, s.cfg.NbPayers-start)

		keys, err := provisioner.CreateUsers(ctx, count, s.cfg.PayerBalanceLamports())
		if err != nil {
			return nil, fmt.Errorf("create users %d..%d: %w", start, start+count, err)
		}

		batch := make([]users.User, len(keys))
		g, gctx := errgroup.WithContext(ctx)
		for i, key := range keys {
			g.Go(func() error {
				tokenData, err := provisioner.MintUser(gctx, key.PublicKey(), mints, users.MintAmount)
				if err != nil {
					return fmt.Errorf("mint user %s: %w", key.PublicKey(), err)
				}
				batch[i] = users.User{Key: key, TokenData: tokenData}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		g, gctx = errgroup.WithContext(ctx)
		for i := range batch {
			g.Go(func() error {
				openOrders, err := configurator.ConfigureMarketForUser(gctx, batch[i].Key, markets)
				if err != nil {
					return fmt.Errorf("register user %s: %w", batch[i].PublicKey(), err)
				}
				batch[i].OpenOrders = openOrders
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		out = append(out, batch...)
		s.logger.Info("users created", "created", len(out), "total", s.cfg.NbPayers)

		s.logger.Info("filling up orderbook", "users", len(batch), "markets", len(markets))
		g, gctx = errgroup.WithContext(ctx)
		for _, user := range batch {
			g.Go(func() error {
				for _, market := range markets {
					if err := configurator.FillOrderBook(gctx, user, market, s.cfg.OrdersPerSide); err != nil {
						return fmt.Errorf("fill order book %s: %w", market.Name, err)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		s.logger.Info("orderbook filled", "users", len(batch))
	}
	return out, nil
}

// checkAuthorityBalance warns when the authority looks underfunded. A low
// balance never stops the run.
func (s *Service) checkAuthorityBalance(ctx context.Context) error {
	balance, err := s.chain.Balance(ctx, s.authority.PublicKey())
	if err != nil {
		return fmt.Errorf("authority balance: %w", err)
	}
	required := uint64(s.cfg.NbPayers)*s.cfg.PayerBalanceLamports() + balanceReserveSOL*solana.LAMPORTS_PER_SOL
	if balance < required {
		s.logger.Warn("authority may have low balance",
			"authority", s.authority.PublicKey(),
			"balance_lamports", balance,
			"required_lamports", required,
		)
	}
	return nil
}

func (s *Service) checkProgramsDeployed(ctx context.Context) error {
	for _, program := range s.programs {
		executable, err := s.chain.IsExecutable(ctx, program.ProgramID)
		if err != nil {
			return fmt.Errorf("look up program %s: %w", program.Name, err)
		}
		if !executable {
			return fmt.Errorf("%w: %s at %s", ErrProgramNotDeployed, program.Name, program.ProgramID)
		}
	}
	return nil
}

func (s *Service) recordRun(ctx context.Context, startedAt time.Time, doc output.File) error {
	recorder, err := s.openRecorder(ctx, s.cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open run ledger: %w", err)
	}
	defer func() {
		if closeErr := recorder.Close(); closeErr != nil {
			s.logger.Warn("failed to close run ledger", "err", closeErr)
		}
	}()

	runID, err := recorder.RecordRun(ctx, store.Run{
		RPCURL:        s.cfg.RPCURL,
		Authority:     s.authority.PublicKey().String(),
		OutputFile:    s.cfg.OutputFile,
		NbMints:       s.cfg.NbMints,
		NbPayers:      s.cfg.NbPayers,
		OrdersPerSide: s.cfg.OrdersPerSide,
		StartedAt:     startedAt,
		FinishedAt:    s.now(),
	}, doc)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	s.logger.Info("run recorded", "run_id", runID)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
