package domain

import "time"

// ExecutionStatus is the terminal view of a submitted transaction.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	// ExecutionUnconfirmed means the transaction was submitted but did not
	// reach the target commitment before the deadline. It may still land.
	ExecutionUnconfirmed ExecutionStatus = "unconfirmed"
)

// ExecutionResult is returned by every execute call. On-chain rejections
// are reported here rather than as Go errors.
type ExecutionResult struct {
	Signature string          `json:"signature"`
	Status    ExecutionStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// OK reports whether the transaction landed successfully.
func (r ExecutionResult) OK() bool { return r.Status == ExecutionSuccess }

// OperationKind names a vault operation.
type OperationKind string

const (
	OpInitialize OperationKind = "initialize"
	OpFinalize   OperationKind = "finalize"
	OpSplit      OperationKind = "split"
	OpMerge      OperationKind = "merge"
	OpRedeem     OperationKind = "redeem"
)

// ParseOperationKind validates a client-supplied operation name.
func ParseOperationKind(s string) (OperationKind, bool) {
	switch k := OperationKind(s); k {
	case OpSplit, OpMerge, OpRedeem:
		return k, true
	default:
		return "", false
	}
}

// UnsignedTx is the serialisable output of every build call.
type UnsignedTx struct {
	Transaction     string   `json:"transaction"` // base64 wire bytes
	Blockhash       string   `json:"blockhash"`
	FeePayer        string   `json:"fee_payer"`
	RequiredSigners []string `json:"required_signers"`
}

// ExecutionRecord is the audit row written for every execute call.
type ExecutionRecord struct {
	ID         string
	ProposalID string
	VaultID    string
	Kind       OperationKind
	User       string
	Amount     uint64
	Result     ExecutionResult
	CreatedAt  time.Time
}
