package ledger

import (
	"sort"
	"sync"

	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/pkg/logger"
	"github.com/quorumkit/governance-service/pkg/metrics"
)

// account tracks one address: its own balance-derived power, its current
// delegatee, and the checkpoint history of the aggregated power it receives
// as a delegatee. Checkpoint history is append-only; a slice header read
// under RLock stays valid after the lock is released.
type account struct {
	balance     int64
	delegatee   string
	checkpoints []domain.Checkpoint
}

// Ledger maintains historical, point-in-time voting power per account via
// checkpoints, plus a parallel total-supply checkpoint series used for
// quorum. Writes are serialized under the write lock because a transfer
// touches up to two delegatees; reads only hold the read lock long enough to
// grab an immutable checkpoint slice.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account
	supply   []domain.Checkpoint
	seq      uint64
	logger   *logger.Logger
}

func New(log *logger.Logger) *Ledger {
	return &Ledger{
		accounts: make(map[string]*account),
		logger:   log,
	}
}

// RecordTransfer applies a balance-change event: from's balance power drops
// by amount, to's rises, and a checkpoint is appended for whichever
// delegatee currently receives each side's power. An empty from is treated
// as issuance and an empty to as burn; both adjust the total-supply series.
// Events must arrive in non-decreasing sequence order; a seq below the last
// applied one is rejected so the checkpoint series stays sorted.
func (l *Ledger) RecordTransfer(from, to string, amount int64, seq uint64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	if from == "" && to == "" {
		return domain.ErrInvalidAccount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if seq < l.seq {
		return domain.ErrStaleSequence
	}
	if from != "" {
		src := l.accounts[from]
		if src == nil || src.balance < amount {
			return domain.ErrInvalidAmount
		}
	}

	if from != "" {
		src := l.accounts[from]
		src.balance -= amount
		l.adjustDelegateePower(l.delegateeOf(from), -amount, seq)
	} else {
		l.adjustSupply(amount, seq)
	}

	if to != "" {
		dst := l.ensureAccount(to)
		dst.balance += amount
		l.adjustDelegateePower(l.delegateeOf(to), amount, seq)
	} else {
		l.adjustSupply(-amount, seq)
	}

	l.advanceSeq(seq)
	return nil
}

// Delegate moves the delegator's full current balance power from the old
// delegatee's aggregate to the new one. Self-delegation is the default state
// and is always permitted.
func (l *Ledger) Delegate(delegator, delegatee string, seq uint64) error {
	if delegator == "" || delegatee == "" {
		return domain.ErrInvalidAccount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if seq < l.seq {
		return domain.ErrStaleSequence
	}
	acct := l.ensureAccount(delegator)
	old := l.delegateeOf(delegator)
	if old == delegatee {
		l.advanceSeq(seq)
		return nil
	}

	if acct.balance != 0 {
		l.adjustDelegateePower(old, -acct.balance, seq)
		l.adjustDelegateePower(delegatee, acct.balance, seq)
	}
	acct.delegatee = delegatee

	l.advanceSeq(seq)
	l.logger.Debugw("Delegation updated",
		"delegator", delegator,
		"from", old,
		"to", delegatee,
		"seq", seq,
	)
	return nil
}

// GetPower returns the account's aggregated voting power as of seq: the
// latest checkpoint with seq' <= seq, or zero when none exists.
// Deterministic and side-effect-free.
func (l *Ledger) GetPower(addr string, seq uint64) int64 {
	l.mu.RLock()
	acct := l.accounts[addr]
	var cps []domain.Checkpoint
	if acct != nil {
		cps = acct.checkpoints
	}
	l.mu.RUnlock()

	return powerAt(cps, seq)
}

// TotalSupply returns the total voting power supply as of seq.
func (l *Ledger) TotalSupply(seq uint64) int64 {
	l.mu.RLock()
	cps := l.supply
	l.mu.RUnlock()

	return powerAt(cps, seq)
}

// CurrentSeq is the highest sequence number applied so far. Proposals fix
// this value as their snapshot at creation.
func (l *Ledger) CurrentSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Balance returns the account's own balance-derived power (not its
// delegated aggregate).
func (l *Ledger) Balance(addr string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acct := l.accounts[addr]; acct != nil {
		return acct.balance
	}
	return 0
}

// DelegateeOf resolves the active delegatee for an account; accounts
// delegate to themselves by default.
func (l *Ledger) DelegateeOf(addr string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.delegateeOf(addr)
}

func (l *Ledger) ensureAccount(addr string) *account {
	acct := l.accounts[addr]
	if acct == nil {
		acct = &account{}
		l.accounts[addr] = acct
	}
	return acct
}

func (l *Ledger) delegateeOf(addr string) string {
	if acct := l.accounts[addr]; acct != nil && acct.delegatee != "" {
		return acct.delegatee
	}
	return addr
}

func (l *Ledger) adjustDelegateePower(delegatee string, delta int64, seq uint64) {
	acct := l.ensureAccount(delegatee)
	acct.checkpoints = appendCheckpoint(acct.checkpoints, seq, latestPower(acct.checkpoints)+delta)
	metrics.CheckpointsAppended.Inc()
}

func (l *Ledger) adjustSupply(delta int64, seq uint64) {
	l.supply = appendCheckpoint(l.supply, seq, latestPower(l.supply)+delta)
	metrics.CheckpointsAppended.Inc()
}

func (l *Ledger) advanceSeq(seq uint64) {
	if seq > l.seq {
		l.seq = seq
		metrics.UpdateLastAppliedSeq(seq)
	}
}

// appendCheckpoint keeps the series ordered ascending by Seq. Multiple
// events at the same sequence collapse into the last written value, so a
// lookup at that sequence sees the net effect.
func appendCheckpoint(cps []domain.Checkpoint, seq uint64, power int64) []domain.Checkpoint {
	if n := len(cps); n > 0 && cps[n-1].Seq == seq {
		updated := make([]domain.Checkpoint, n)
		copy(updated, cps)
		updated[n-1].Power = power
		return updated
	}
	return append(cps, domain.Checkpoint{Seq: seq, Power: power})
}

func latestPower(cps []domain.Checkpoint) int64 {
	if len(cps) == 0 {
		return 0
	}
	return cps[len(cps)-1].Power
}

// powerAt binary-searches for the latest checkpoint with Seq <= seq.
func powerAt(cps []domain.Checkpoint, seq uint64) int64 {
	idx := sort.Search(len(cps), func(i int) bool {
		return cps[i].Seq > seq
	})
	if idx == 0 {
		return 0
	}
	return cps[idx-1].Power
}

// Snapshot captures the full ledger state for the persistence adapter.
type Snapshot struct {
	Accounts map[string]AccountSnapshot `json:"accounts"`
	Supply   []domain.Checkpoint        `json:"supply"`
	Seq      uint64                     `json:"seq"`
}

type AccountSnapshot struct {
	Balance     int64               `json:"balance"`
	Delegatee   string              `json:"delegatee,omitempty"`
	Checkpoints []domain.Checkpoint `json:"checkpoints,omitempty"`
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{
		Accounts: make(map[string]AccountSnapshot, len(l.accounts)),
		Supply:   append([]domain.Checkpoint(nil), l.supply...),
		Seq:      l.seq,
	}
	for addr, acct := range l.accounts {
		snap.Accounts[addr] = AccountSnapshot{
			Balance:     acct.balance,
			Delegatee:   acct.delegatee,
			Checkpoints: append([]domain.Checkpoint(nil), acct.checkpoints...),
		}
	}
	return snap
}

func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[string]*account, len(snap.Accounts))
	for addr, as := range snap.Accounts {
		l.accounts[addr] = &account{
			balance:     as.Balance,
			delegatee:   as.Delegatee,
			checkpoints: append([]domain.Checkpoint(nil), as.Checkpoints...),
		}
	}
	l.supply = append([]domain.Checkpoint(nil), snap.Supply...)
	l.seq = snap.Seq
	metrics.UpdateLastAppliedSeq(l.seq)
}
