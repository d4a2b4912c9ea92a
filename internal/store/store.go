package store

import (
	"sort"
	"sync"

	"github.com/quorumkit/governance-service/internal/domain"
)

// Store owns proposal records and their vote records. It holds no policy:
// the governor decides every transition and the store only keeps the data.
// Proposals are never deleted; terminal states are retained for audit.
type Store struct {
	mu        sync.RWMutex
	proposals map[string]*domain.Proposal
	votes     map[string]map[string]domain.VoteRecord
}

func New() *Store {
	return &Store{
		proposals: make(map[string]*domain.Proposal),
		votes:     make(map[string]map[string]domain.VoteRecord),
	}
}

func (s *Store) PutProposal(p domain.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	cp.Actions = append([]domain.Action(nil), p.Actions...)
	s.proposals[p.ID] = &cp
}

func (s *Store) GetProposal(id string) (domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrProposalNotFound
	}
	return copyProposal(p), nil
}

// UpdateProposal applies fn to the stored record under the store lock. When
// fn returns an error the record is left unchanged.
func (s *Store) UpdateProposal(id string, fn func(*domain.Proposal) error) (domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrProposalNotFound
	}
	staged := copyProposal(p)
	if err := fn(&staged); err != nil {
		return domain.Proposal{}, err
	}
	s.proposals[id] = &staged
	return copyProposal(&staged), nil
}

func (s *Store) ListProposals() []domain.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		out = append(out, copyProposal(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AddVote records a vote exactly once per (proposalID, voter); a second
// record for the same pair is rejected, never overwritten.
func (s *Store) AddVote(v domain.VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[v.ProposalID]; !ok {
		return domain.ErrProposalNotFound
	}
	byVoter := s.votes[v.ProposalID]
	if byVoter == nil {
		byVoter = make(map[string]domain.VoteRecord)
		s.votes[v.ProposalID] = byVoter
	}
	if _, exists := byVoter[v.Voter]; exists {
		return domain.ErrAlreadyVoted
	}
	byVoter[v.Voter] = v
	return nil
}

func (s *Store) GetVote(proposalID, voter string) (domain.VoteRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[proposalID][voter]
	return v, ok
}

func (s *Store) VotesFor(proposalID string) []domain.VoteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byVoter := s.votes[proposalID]
	out := make([]domain.VoteRecord, 0, len(byVoter))
	for _, v := range byVoter {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CastAt.Before(out[j].CastAt)
	})
	return out
}

func (s *Store) CountProposals() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.proposals)
}

// Snapshot captures all proposals and votes for the persistence adapter.
type Snapshot struct {
	Proposals []domain.Proposal   `json:"proposals"`
	Votes     []domain.VoteRecord `json:"votes"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{}
	for _, p := range s.proposals {
		snap.Proposals = append(snap.Proposals, copyProposal(p))
	}
	for _, byVoter := range s.votes {
		for _, v := range byVoter {
			snap.Votes = append(snap.Votes, v)
		}
	}
	sort.Slice(snap.Proposals, func(i, j int) bool {
		return snap.Proposals[i].CreatedAt.Before(snap.Proposals[j].CreatedAt)
	})
	sort.Slice(snap.Votes, func(i, j int) bool {
		return snap.Votes[i].CastAt.Before(snap.Votes[j].CastAt)
	})
	return snap
}

func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals = make(map[string]*domain.Proposal, len(snap.Proposals))
	s.votes = make(map[string]map[string]domain.VoteRecord)
	for _, p := range snap.Proposals {
		cp := copyProposal(&p)
		s.proposals[p.ID] = &cp
	}
	for _, v := range snap.Votes {
		byVoter := s.votes[v.ProposalID]
		if byVoter == nil {
			byVoter = make(map[string]domain.VoteRecord)
			s.votes[v.ProposalID] = byVoter
		}
		byVoter[v.Voter] = v
	}
}

func copyProposal(p *domain.Proposal) domain.Proposal {
	cp := *p
	cp.Actions = append([]domain.Action(nil), p.Actions...)
	return cp
}
