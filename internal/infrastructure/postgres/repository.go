package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/internal/ledger"
	"github.com/quorumkit/governance-service/internal/store"
	"github.com/quorumkit/governance-service/pkg/logger"
)

// Repository is the external persistence adapter behind the in-memory core:
// the engine owns the contract, this just mirrors its snapshots into
// PostgreSQL and loads them back at startup.
type Repository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

func NewRepository(db *pgxpool.Pool, logger *logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) SaveProposal(p domain.Proposal) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	actions, err := json.Marshal(p.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO proposals (id, proposer, description, actions, snapshot_seq, voting_start, voting_end,
			votes_for, votes_against, votes_abstain, stored_state, eta, operation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			votes_for = EXCLUDED.votes_for,
			votes_against = EXCLUDED.votes_against,
			votes_abstain = EXCLUDED.votes_abstain,
			stored_state = EXCLUDED.stored_state,
			eta = EXCLUDED.eta,
			operation_id = EXCLUDED.operation_id
	`

	var eta interface{}
	if !p.ETA.IsZero() {
		eta = p.ETA
	}

	_, err = r.db.Exec(ctx, query,
		p.ID,
		p.Proposer,
		p.Description,
		actions,
		int64(p.SnapshotSeq),
		p.VotingStart,
		p.VotingEnd,
		p.VotesFor,
		p.VotesAgainst,
		p.VotesAbstain,
		string(p.StoredState),
		eta,
		p.OperationID,
		p.CreatedAt,
	)

	if err != nil {
		r.logger.Errorw("Failed to save proposal", "error", err, "proposalId", p.ID)
		return fmt.Errorf("failed to save proposal: %w", err)
	}

	return nil
}

func (r *Repository) SaveVote(v domain.VoteRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO votes (proposal_id, voter, support, weight, reason, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (proposal_id, voter) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query,
		v.ProposalID,
		v.Voter,
		string(v.Support),
		v.Weight,
		v.Reason,
		v.CastAt,
	)

	if err != nil {
		r.logger.Errorw("Failed to save vote", "error", err, "proposalId", v.ProposalID, "voter", v.Voter)
		return fmt.Errorf("failed to save vote: %w", err)
	}

	return nil
}

func (r *Repository) SaveOperation(op domain.TimelockOperation) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO timelock_operations (id, proposal_id, eta, state, scheduled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state
	`

	_, err := r.db.Exec(ctx, query,
		op.ID,
		op.ProposalID,
		op.ETA,
		string(op.State),
		op.ScheduledAt,
	)

	if err != nil {
		r.logger.Errorw("Failed to save timelock operation", "error", err, "operationId", op.ID)
		return fmt.Errorf("failed to save timelock operation: %w", err)
	}

	return nil
}

// SaveLedgerSnapshot mirrors the full ledger state. Checkpoint rows are
// immutable once written, so conflicts are skipped rather than updated.
func (r *Repository) SaveLedgerSnapshot(snap ledger.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		tx.Rollback(context.Background())
	}()

	batch := &pgx.Batch{}
	accountQuery := `
		INSERT INTO ledger_accounts (address, balance, delegatee)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET
			balance = EXCLUDED.balance,
			delegatee = EXCLUDED.delegatee
	`
	checkpointQuery := `
		INSERT INTO checkpoints (account, seq, power)
		VALUES ($1, $2, $3)
		ON CONFLICT (account, seq) DO UPDATE SET power = EXCLUDED.power
	`
	supplyQuery := `
		INSERT INTO supply_checkpoints (seq, power)
		VALUES ($1, $2)
		ON CONFLICT (seq) DO UPDATE SET power = EXCLUDED.power
	`

	for addr, acct := range snap.Accounts {
		batch.Queue(accountQuery, addr, acct.Balance, acct.Delegatee)
		for _, cp := range acct.Checkpoints {
			batch.Queue(checkpointQuery, addr, int64(cp.Seq), cp.Power)
		}
	}
	for _, cp := range snap.Supply {
		batch.Queue(supplyQuery, int64(cp.Seq), cp.Power)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to execute batch item %d: %w", i, err)
		}
	}

	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debugw("Saved ledger snapshot", "accounts", len(snap.Accounts), "seq", snap.Seq)
	return nil
}

func (r *Repository) LoadLedgerSnapshot() (ledger.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap := ledger.Snapshot{Accounts: make(map[string]ledger.AccountSnapshot)}

	rows, err := r.db.Query(ctx, `SELECT address, balance, delegatee FROM ledger_accounts`)
	if err != nil {
		return snap, fmt.Errorf("failed to query ledger accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var addr, delegatee string
		var balance int64
		if err := rows.Scan(&addr, &balance, &delegatee); err != nil {
			return snap, fmt.Errorf("failed to scan ledger account: %w", err)
		}
		snap.Accounts[addr] = ledger.AccountSnapshot{Balance: balance, Delegatee: delegatee}
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("error iterating ledger accounts: %w", err)
	}

	cpRows, err := r.db.Query(ctx, `SELECT account, seq, power FROM checkpoints ORDER BY account, seq ASC`)
	if err != nil {
		return snap, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer cpRows.Close()
	for cpRows.Next() {
		var addr string
		var seq, power int64
		if err := cpRows.Scan(&addr, &seq, &power); err != nil {
			return snap, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		acct := snap.Accounts[addr]
		acct.Checkpoints = append(acct.Checkpoints, domain.Checkpoint{Seq: uint64(seq), Power: power})
		snap.Accounts[addr] = acct
		if uint64(seq) > snap.Seq {
			snap.Seq = uint64(seq)
		}
	}
	if err := cpRows.Err(); err != nil {
		return snap, fmt.Errorf("error iterating checkpoints: %w", err)
	}

	supplyRows, err := r.db.Query(ctx, `SELECT seq, power FROM supply_checkpoints ORDER BY seq ASC`)
	if err != nil {
		return snap, fmt.Errorf("failed to query supply checkpoints: %w", err)
	}
	defer supplyRows.Close()
	for supplyRows.Next() {
		var seq, power int64
		if err := supplyRows.Scan(&seq, &power); err != nil {
			return snap, fmt.Errorf("failed to scan supply checkpoint: %w", err)
		}
		snap.Supply = append(snap.Supply, domain.Checkpoint{Seq: uint64(seq), Power: power})
		if uint64(seq) > snap.Seq {
			snap.Seq = uint64(seq)
		}
	}
	if err := supplyRows.Err(); err != nil {
		return snap, fmt.Errorf("error iterating supply checkpoints: %w", err)
	}

	return snap, nil
}

func (r *Repository) LoadStoreSnapshot() (store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var snap store.Snapshot

	rows, err := r.db.Query(ctx, `
		SELECT id, proposer, description, actions, snapshot_seq, voting_start, voting_end,
			votes_for, votes_against, votes_abstain, stored_state, eta, operation_id, created_at
		FROM proposals
		ORDER BY created_at ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Proposal
		var actions []byte
		var snapshotSeq int64
		var storedState string
		var eta sql.NullTime
		if err := rows.Scan(
			&p.ID,
			&p.Proposer,
			&p.Description,
			&actions,
			&snapshotSeq,
			&p.VotingStart,
			&p.VotingEnd,
			&p.VotesFor,
			&p.VotesAgainst,
			&p.VotesAbstain,
			&storedState,
			&eta,
			&p.OperationID,
			&p.CreatedAt,
		); err != nil {
			return snap, fmt.Errorf("failed to scan proposal: %w", err)
		}
		if err := json.Unmarshal(actions, &p.Actions); err != nil {
			return snap, fmt.Errorf("failed to unmarshal actions for proposal %s: %w", p.ID, err)
		}
		p.SnapshotSeq = uint64(snapshotSeq)
		p.StoredState = domain.ProposalState(storedState)
		if eta.Valid {
			p.ETA = eta.Time
		}
		snap.Proposals = append(snap.Proposals, p)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("error iterating proposals: %w", err)
	}

	voteRows, err := r.db.Query(ctx, `
		SELECT proposal_id, voter, support, weight, reason, cast_at
		FROM votes
		ORDER BY cast_at ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("failed to query votes: %w", err)
	}
	defer voteRows.Close()
	for voteRows.Next() {
		var v domain.VoteRecord
		var support string
		if err := voteRows.Scan(&v.ProposalID, &v.Voter, &support, &v.Weight, &v.Reason, &v.CastAt); err != nil {
			return snap, fmt.Errorf("failed to scan vote: %w", err)
		}
		v.Support = domain.VoteSupport(support)
		snap.Votes = append(snap.Votes, v)
	}
	if err := voteRows.Err(); err != nil {
		return snap, fmt.Errorf("error iterating votes: %w", err)
	}

	return snap, nil
}

func (r *Repository) LoadOperations() ([]domain.TimelockOperation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT id, proposal_id, eta, state, scheduled_at
		FROM timelock_operations
		ORDER BY scheduled_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query timelock operations: %w", err)
	}
	defer rows.Close()

	var ops []domain.TimelockOperation
	for rows.Next() {
		var op domain.TimelockOperation
		var state string
		if err := rows.Scan(&op.ID, &op.ProposalID, &op.ETA, &state, &op.ScheduledAt); err != nil {
			return nil, fmt.Errorf("failed to scan timelock operation: %w", err)
		}
		op.State = domain.OperationState(state)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timelock operations: %w", err)
	}

	return ops, nil
}

func (r *Repository) GetStats() (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats := make(map[string]interface{})

	var totalProposals int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM proposals").Scan(&totalProposals); err != nil {
		return nil, fmt.Errorf("failed to get proposal count: %w", err)
	}
	stats["total_proposals"] = totalProposals

	var totalVotes int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM votes").Scan(&totalVotes); err != nil {
		return nil, fmt.Errorf("failed to get vote count: %w", err)
	}
	stats["total_votes"] = totalVotes

	var lastSeq sql.NullInt64
	err := r.db.QueryRow(ctx, "SELECT MAX(seq) FROM checkpoints").Scan(&lastSeq)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get last checkpoint seq: %w", err)
	}
	if lastSeq.Valid {
		stats["last_checkpoint_seq"] = lastSeq.Int64
	}

	return stats, nil
}
