package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a decoded contract log delivered by the ingester. Position orders
// events by (block, logIndex) for the at-most-once delivery guard.
type Event interface {
	Position() (block uint64, logIndex uint)
}

// NewRequestEvent announces an LLM inference request the node may race for.
type NewRequestEvent struct {
	RequestID  *big.Int
	Redundancy uint8
	Block      uint64
	LogIndex   uint
}

func (e NewRequestEvent) Position() (uint64, uint) {
	return e.Block, e.LogIndex
}

// NodeChangeEvent signals a membership change in the authorized node set.
type NodeChangeEvent struct {
	Node     common.Address
	Added    bool
	Block    uint64
	LogIndex uint
}

func (e NodeChangeEvent) Position() (uint64, uint) {
	return e.Block, e.LogIndex
}

// Request mirrors the on-chain request record. Platform and Model arrive as
// null-padded bytes32 and are stored trimmed; Prompt is the lowercase-hex
// rendering of the 32-byte content hash.
type Request struct {
	Platform                     string
	Model                        string
	Prompt                       string
	Input                        string
	Redundancy                   uint8
	ReturnContentWithinResultTag bool
	StoreResultOffchain          bool
	Caller                       common.Address
	Callback                     string
	Args                         []byte
}

// Absent reports whether the contract has no record for the queried id.
func (r Request) Absent() bool {
	return r.Caller == (common.Address{})
}

// Submission status strings returned by the contract's checkSubmission view.
const (
	SubmissionOK          = "OK"
	SubmissionNotFound    = "request not found"
	SubmissionSubmitted   = "submitted"
	SubmissionNoConsensus = "no consensus"
)
