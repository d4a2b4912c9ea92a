package chain

import "time"

// LedgerEvent is one balance-affecting event from the external token ledger.
// Transfers carry From/To/Amount; delegation changes carry
// Delegator/Delegatee. An empty From marks issuance, an empty To a burn.
type LedgerEvent struct {
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Delegator string    `json:"delegator,omitempty"`
	Delegatee string    `json:"delegatee,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventKindTransfer   = "transfer"
	EventKindDelegation = "delegation"
)

type QueryParams struct {
	Limit     int
	Offset    int
	SeqGt     *uint64
	SinceTime *time.Time
}

// ActionRequest is the payload posted to the execution endpoint when the
// timelock dispatches a proposal action.
type ActionRequest struct {
	Target  string `json:"target"`
	Value   int64  `json:"value"`
	Payload []byte `json:"payload,omitempty"`
}
