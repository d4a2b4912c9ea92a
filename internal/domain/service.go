package domain

// GovernanceService is the caller surface consumed by the HTTP layer. Every
// operation returns either a result or one of the named failure kinds from
// errors.go.
type GovernanceService interface {
	Propose(proposer string, actions []Action, description string) (Proposal, error)
	GetProposal(id string) (ProposalResponse, error)
	ListProposals() ([]ProposalResponse, error)
	State(id string) (ProposalState, error)
	CastVote(proposalID, voter string, support VoteSupport, reason string) (VoteRecord, error)
	Queue(proposalID string) (TimelockOperation, error)
	Execute(operationID string) (TimelockOperation, error)
	CancelProposal(proposalID, actor string) error
	CancelOperation(operationID, actor string) (TimelockOperation, error)
	GetOperation(operationID string) (TimelockOperation, error)
	GetPower(account string, seq *uint64) (int64, uint64, error)
	GetStats() (map[string]interface{}, error)
}
