package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/openbook-dex/openbook-v2-simulation/internal/output"
)

// Store is the run ledger: every bootstrap run, the markets it created and
// the accounts it reported.
type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return tx.raw.PrepareContext(ctx, rebindPostgresPlaceholders(query))
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

// rebindPostgresPlaceholders rewrites ? placeholders to $n outside string
// literals.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}
		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS bootstrap_runs (
			id BIGSERIAL PRIMARY KEY,
			rpc_url TEXT NOT NULL,
			authority TEXT NOT NULL,
			output_file TEXT NOT NULL,
			nb_mints INTEGER NOT NULL,
			nb_payers INTEGER NOT NULL,
			orders_per_side INTEGER NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS bootstrap_markets (
			run_id BIGINT NOT NULL REFERENCES bootstrap_runs(id) ON DELETE CASCADE,
			market_index INTEGER NOT NULL,
			name TEXT NOT NULL,
			market_pk TEXT NOT NULL,
			base_mint TEXT NOT NULL,
			quote_mint TEXT NOT NULL,
			price BIGINT NOT NULL,
			PRIMARY KEY (run_id, market_index)
		);`,
		`CREATE TABLE IF NOT EXISTS bootstrap_known_accounts (
			run_id BIGINT NOT NULL REFERENCES bootstrap_runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			pubkey TEXT NOT NULL,
			PRIMARY KEY (run_id, position)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bootstrap_known_accounts_pubkey ON bootstrap_known_accounts(pubkey);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Run describes one bootstrap invocation.
type Run struct {
	RPCURL        string
	Authority     string
	OutputFile    string
	NbMints       int
	NbPayers      int
	OrdersPerSide int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// RecordRun stores run and the document it produced in one transaction and
// returns the run id.
func (s *Store) RecordRun(ctx context.Context, run Run, doc output.File) (int64, error) {
	var runID int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO bootstrap_runs (rpc_url, authority, output_file, nb_mints, nb_payers, orders_per_side, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`,
			run.RPCURL,
			run.Authority,
			run.OutputFile,
			run.NbMints,
			run.NbPayers,
			run.OrdersPerSide,
			run.StartedAt.UnixMilli(),
			run.FinishedAt.UnixMilli(),
		)
		if err := row.Scan(&runID); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		marketStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bootstrap_markets (run_id, market_index, name, market_pk, base_mint, quote_mint, price)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare market insert: %w", err)
		}
		defer marketStmt.Close()
		for _, market := range doc.Markets {
			if _, err := marketStmt.ExecContext(ctx,
				runID,
				market.MarketIndex,
				market.Name,
				market.MarketPK.String(),
				market.BaseMint.String(),
				market.QuoteMint.String(),
				market.Price,
			); err != nil {
				return fmt.Errorf("insert market %s: %w", market.MarketPK, err)
			}
		}

		accountStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bootstrap_known_accounts (run_id, position, pubkey)
			VALUES (?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare known account insert: %w", err)
		}
		defer accountStmt.Close()
		for i, account := range doc.KnownAccounts {
			if _, err := accountStmt.ExecContext(ctx, runID, i, account.String()); err != nil {
				return fmt.Errorf("insert known account %s: %w", account, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return runID, nil
}
