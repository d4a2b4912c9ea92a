package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quorumkit/governance-service/pkg/config"
	"github.com/quorumkit/governance-service/pkg/logger"
)

func NewConnection(cfg *config.Database, logger *logger.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MaxConnIdleTime = cfg.MaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL database")

	return pool, nil
}

func RunMigrations(pool *pgxpool.Pool, logger *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS proposals (
			id UUID PRIMARY KEY,
			proposer TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			actions JSONB NOT NULL,
			snapshot_seq BIGINT NOT NULL,
			voting_start TIMESTAMP WITH TIME ZONE NOT NULL,
			voting_end TIMESTAMP WITH TIME ZONE NOT NULL,
			votes_for BIGINT NOT NULL DEFAULT 0,
			votes_against BIGINT NOT NULL DEFAULT 0,
			votes_abstain BIGINT NOT NULL DEFAULT 0,
			stored_state TEXT NOT NULL DEFAULT '',
			eta TIMESTAMP WITH TIME ZONE,
			operation_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_proposer ON proposals(proposer)`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_created_at ON proposals(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS votes (
			proposal_id UUID NOT NULL,
			voter TEXT NOT NULL,
			support TEXT NOT NULL,
			weight BIGINT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			cast_at TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (proposal_id, voter)
		)`,
		`CREATE TABLE IF NOT EXISTS timelock_operations (
			id UUID PRIMARY KEY,
			proposal_id UUID NOT NULL,
			eta TIMESTAMP WITH TIME ZONE NOT NULL,
			state TEXT NOT NULL,
			scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timelock_operations_proposal ON timelock_operations(proposal_id)`,
		`CREATE TABLE IF NOT EXISTS ledger_accounts (
			address TEXT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			delegatee TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			account TEXT NOT NULL,
			seq BIGINT NOT NULL,
			power BIGINT NOT NULL,
			PRIMARY KEY (account, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS supply_checkpoints (
			seq BIGINT PRIMARY KEY,
			power BIGINT NOT NULL
		)`,
	}

	for i, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	logger.Info("Successfully ran database migrations")
	return nil
}
