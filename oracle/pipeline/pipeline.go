package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/openllm-network/oracled/oracle/log"
	"github.com/openllm-network/oracled/oracle/resolver"
	"github.com/openllm-network/oracled/oracle/scheduler"
	"github.com/openllm-network/oracled/oracle/store"
	"github.com/openllm-network/oracled/oracle/types"
)

// Chain is the contract surface a request task talks to.
type Chain interface {
	CheckSubmission(ctx context.Context, requestID *big.Int, node common.Address) (string, error)
	GetRequestInfo(ctx context.Context, requestID *big.Int) (types.Request, error)
	SendResult(ctx context.Context, requestID *big.Int, result string) (*ethtypes.Receipt, error)
}

// Invoker dispatches a prompt to an LLM platform.
type Invoker interface {
	Invoke(ctx context.Context, platform, model, prompt string) (string, error)
}

// Membership supplies the (myIndex, nodeCount) snapshot taken when a request
// event arrives. Membership changes during a task's delay do not move its
// assigned position.
type Membership interface {
	Snapshot() (myIndex, nodeCount int)
}

// Manager spawns one task per incoming request event. Tasks are the unit of
// failure containment: every error is logged and ends the task without
// submitting.
type Manager struct {
	chain   Chain
	invoker Invoker
	members Membership
	store   *store.Store
	self    common.Address

	active cmap.ConcurrentMap[string, struct{}]
	wg     sync.WaitGroup

	// wait is scheduler.Wait, swappable in tests to skip real delays.
	wait func(ctx context.Context, d time.Duration) bool

	unauthorizedOnce sync.Once
}

func NewManager(chain Chain, invoker Invoker, members Membership, st *store.Store, self common.Address) *Manager {
	return &Manager{
		chain:   chain,
		invoker: invoker,
		members: members,
		store:   st,
		self:    self,
		active:  cmap.New[struct{}](),
		wait:    scheduler.Wait,
	}
}

// Submit starts a task for the request event. Events for requests already in
// flight are dropped; the on-chain re-check makes redelivery after
// completion safe.
func (m *Manager) Submit(ctx context.Context, event types.NewRequestEvent) {
	myIndex, nodeCount := m.members.Snapshot()
	if myIndex == -1 || nodeCount == 0 {
		m.unauthorizedOnce.Do(func() {
			log.Warnf("node %s is not authorized, discarding requests", m.self.Hex())
		})
		return
	}

	key := event.RequestID.String()
	if !m.active.SetIfAbsent(key, struct{}{}) {
		log.Debugf("request %s already in flight, dropping duplicate event", key)
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.active.Remove(key)

		m.run(ctx, event, myIndex, nodeCount)
	}()
}

// Wait blocks until all in-flight tasks have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// ActiveCount reports the number of in-flight tasks.
func (m *Manager) ActiveCount() int {
	return m.active.Count()
}

// run walks one request through the pipeline:
// wait, re-check, fetch, resolve, invoke, extract, store, re-check, submit.
func (m *Manager) run(ctx context.Context, event types.NewRequestEvent, myIndex, nodeCount int) {
	id := event.RequestID
	current := stateReceived
	abort := func(format string, v ...any) {
		if format != "" {
			log.Errorf("request %s: %s", id, fmt.Sprintf(format, v...))
		}
		log.Debugf("request %s aborted in state %s", id, current)
		current = stateAborted
	}

	delay := scheduler.Delay(id, event.Redundancy, myIndex, nodeCount)
	log.Infof("request %s: position delay %s (index %d of %d, redundancy %d)",
		id, delay, myIndex, nodeCount, event.Redundancy)

	current = stateWaiting
	if !m.wait(ctx, delay) {
		abort("")
		return
	}

	current = stateReady
	if delay > 0 {
		status, err := m.chain.CheckSubmission(ctx, id, m.self)
		if err != nil {
			abort("failed to check submission: %v", err)
			return
		}
		if status != types.SubmissionOK {
			log.Infof("request %s: no longer open after wait (%s), skipping", id, status)
			abort("")
			return
		}
	}

	current = stateFetching
	request, err := m.chain.GetRequestInfo(ctx, id)
	if err != nil {
		abort("failed to fetch request info: %v", err)
		return
	}
	if request.Absent() {
		abort("request not found on chain")
		return
	}

	current = stateComputing
	resolved, err := resolver.Resolve(m.store, request)
	if err != nil {
		abort("failed to resolve prompt: %v", err)
		return
	}

	raw, err := m.invoker.Invoke(ctx, resolved.Platform, resolved.Model, resolved.Prompt)
	if err != nil {
		abort("provider call failed: %v", err)
		return
	}

	result := raw
	if request.ReturnContentWithinResultTag {
		result = extractResult(id, raw)
	}
	if request.StoreResultOffchain {
		hash, err := m.store.Put([]byte(result))
		if err != nil {
			abort("failed to store result: %v", err)
			return
		}
		result = hash
	}

	current = stateSubmitting
	status, err := m.chain.CheckSubmission(ctx, id, m.self)
	if err != nil {
		abort("failed to re-check submission: %v", err)
		return
	}
	if status != types.SubmissionOK {
		log.Infof("request %s: closed before submit (%s), discarding result", id, status)
		abort("")
		return
	}

	receipt, err := m.chain.SendResult(ctx, id, result)
	if err != nil {
		abort("failed to submit result: %v", err)
		return
	}

	current = stateDone
	log.Infof("request %s: result submitted in tx %s (status %d)",
		id, receipt.TxHash.Hex(), receipt.Status)
}

// extractResult keeps everything between the first <result> tag and the
// closing tag when present. Output without the opening tag is passed through
// untouched.
func extractResult(id *big.Int, raw string) string {
	_, after, found := strings.Cut(raw, "<result>")
	if !found {
		log.Warnf("request %s: provider output has no <result> tag, keeping raw output", id)
		return raw
	}

	if end := strings.Index(after, "</result>"); end != -1 {
		after = after[:end]
	}

	return strings.TrimSpace(after)
}
