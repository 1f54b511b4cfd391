package nodeset

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openllm-network/oracled/oracle/log"
)

// Lister is the single chain view the tracker depends on.
type Lister interface {
	GetAuthorizedNodes(ctx context.Context) ([]common.Address, error)
}

// Tracker maintains this node's position in the authorized set. Refreshes
// are serialized so concurrent membership events observe a consistent
// snapshot.
type Tracker struct {
	lister Lister
	self   common.Address

	refreshMu sync.Mutex

	mu        sync.RWMutex
	myIndex   int
	nodeCount int
}

func New(lister Lister, self common.Address) *Tracker {
	return &Tracker{
		lister:  lister,
		self:    self,
		myIndex: -1,
	}
}

// Refresh re-reads the authorized set and recomputes (myIndex, nodeCount).
// Address comparison is on the decoded 20 bytes, so hex casing never
// matters.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	nodes, err := t.lister.GetAuthorizedNodes(ctx)
	if err != nil {
		return err
	}

	index := -1
	for i, node := range nodes {
		if node == t.self {
			index = i
			break
		}
	}

	t.mu.Lock()
	prevIndex, prevCount := t.myIndex, t.nodeCount
	t.myIndex, t.nodeCount = index, len(nodes)
	t.mu.Unlock()

	if prevIndex != index || prevCount != len(nodes) {
		if index == -1 {
			log.Warnf("node %s is not in the authorized set (%d nodes)", t.self.Hex(), len(nodes))
		} else {
			log.Infof("node set changed: index %d -> %d, count %d -> %d", prevIndex, index, prevCount, len(nodes))
		}
	}

	return nil
}

// Snapshot returns (myIndex, nodeCount) atomically. myIndex is -1 while the
// node is unauthorized.
func (t *Tracker) Snapshot() (int, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.myIndex, t.nodeCount
}
