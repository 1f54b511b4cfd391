package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/openllm-network/oracled/oracle/client"
	"github.com/openllm-network/oracled/oracle/log"
	"github.com/openllm-network/oracled/oracle/types"
)

const (
	// rangeBlocks bounds one catch-up log query.
	rangeBlocks = 10_000

	heartbeatInterval = 180 * time.Second
	pollInterval      = 15 * time.Second
	resubscribeDelay  = 5 * time.Second
)

// Chain is the narrow chain surface the ingester reads from.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, from, to uint64) ([]ethtypes.Log, error)
	SubscribeLogs(ctx context.Context, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
	HasSubscription() bool
}

// Ingester replays historical contract logs from the persisted cursor, then
// follows the live stream, delivering each decoded event to the pipeline at
// most once. The cursor is advanced and persisted after every delivery.
type Ingester struct {
	chain      Chain
	cursorPath string
	events     chan types.Event

	mu     sync.Mutex
	cursor Cursor

	wg sync.WaitGroup
}

func New(chain Chain, cursorPath string, channelSize int) *Ingester {
	return &Ingester{
		chain:      chain,
		cursorPath: cursorPath,
		events:     make(chan types.Event, channelSize),
	}
}

// Events is the ordered delivery channel consumed by the daemon. It closes
// when the ingester stops.
func (in *Ingester) Events() <-chan types.Event {
	return in.events
}

// Start loads the cursor and launches catch-up, the live follower, and the
// heartbeat.
func (in *Ingester) Start(ctx context.Context) error {
	cursor, err := LoadCursor(in.cursorPath)
	if err != nil {
		return err
	}
	in.cursor = cursor
	log.Infof("starting ingester at cursor block=%d logIndex=%d", cursor.Block, cursor.LogIndex)

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer close(in.events)

		in.catchUp(ctx)
		if in.chain.HasSubscription() {
			in.followSubscription(ctx)
		} else {
			in.followByPolling(ctx)
		}
	}()

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.heartbeat(ctx)
	}()

	return nil
}

// Wait blocks until the ingester goroutines have exited.
func (in *Ingester) Wait() {
	in.wg.Wait()
}

// catchUp replays ranges of at most rangeBlocks between the cursor and the
// chain head. A failed range is logged and skipped; the cursor only advances
// through delivered events, so the range is retried after a restart.
func (in *Ingester) catchUp(ctx context.Context) {
	head, err := in.chain.BlockNumber(ctx)
	if err != nil {
		log.Errorf("failed to query head for catch-up: %v", err)
		return
	}

	from := in.snapshot().Block
	if from == 0 {
		from = 1
	}
	if from > head {
		return
	}

	failed := false
	for from <= head {
		if ctx.Err() != nil {
			return
		}

		to := from + rangeBlocks - 1
		if to > head {
			to = head
		}

		logs, err := in.chain.FilterLogs(ctx, from, to)
		if err != nil {
			log.Errorf("failed to query logs [%d,%d]: %v", from, to, err)
			failed = true
			from = to + 1
			continue
		}

		sort.Slice(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})

		for _, lg := range logs {
			if !in.handleLog(ctx, lg) {
				return
			}
		}

		from = to + 1
	}

	// Every range completed: no more events expected at or below head. A
	// failed range keeps the cursor behind so a restart replays it.
	if !failed {
		in.advance(Cursor{Block: head, LogIndex: MaxLogIndex})
	}
}

// handleLog decodes, filters, delivers, and persists one log. Returns false
// only when the context is cancelled.
func (in *Ingester) handleLog(ctx context.Context, lg ethtypes.Log) bool {
	event, err := client.DecodeLog(lg)
	if err != nil {
		log.Errorf("failed to decode log at block %d index %d: %v", lg.BlockNumber, lg.Index, err)
		return true
	}
	if event == nil {
		return true
	}

	block, logIndex := event.Position()
	if in.snapshot().Covers(block, logIndex) {
		log.Debugf("skipping duplicate event at block %d index %d", block, logIndex)
		return true
	}

	select {
	case in.events <- event:
	case <-ctx.Done():
		return false
	}

	in.advance(Cursor{Block: block, LogIndex: int64(logIndex)})

	return true
}

// followSubscription consumes the live log stream, resubscribing on error.
func (in *Ingester) followSubscription(ctx context.Context) {
	for ctx.Err() == nil {
		ch := make(chan ethtypes.Log, cap(in.events))
		sub, err := in.chain.SubscribeLogs(ctx, ch)
		if err != nil {
			log.Errorf("failed to subscribe to logs: %v", err)
			if !sleep(ctx, resubscribeDelay) {
				return
			}
			continue
		}

		log.Info("live log subscription established")
		if !in.consume(ctx, ch, sub) {
			return
		}
	}
}

func (in *Ingester) consume(ctx context.Context, ch chan ethtypes.Log, sub ethereum.Subscription) bool {
	defer sub.Unsubscribe()

	for {
		select {
		case lg := <-ch:
			if !in.handleLog(ctx, lg) {
				return false
			}
		case err := <-sub.Err():
			log.Errorf("log subscription dropped: %v", err)
			return sleep(ctx, resubscribeDelay)
		case <-ctx.Done():
			return false
		}
	}
}

// followByPolling covers endpoints without a WS URL by repeating the
// catch-up pass against the moving head.
func (in *Ingester) followByPolling(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			in.catchUp(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// heartbeat advances the cursor to the chain head every interval so a long
// idle period never forces a large replay after restart.
func (in *Ingester) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			head, err := in.chain.BlockNumber(ctx)
			if err != nil {
				log.Errorf("heartbeat failed to query head: %v", err)
				continue
			}
			if head > in.snapshot().Block {
				in.advance(Cursor{Block: head, LogIndex: MaxLogIndex})
				log.Debugf("heartbeat advanced cursor to block %d", head)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (in *Ingester) snapshot() Cursor {
	in.mu.Lock()
	defer in.mu.Unlock()

	return in.cursor
}

// advance moves the cursor forward monotonically and persists it. Regressive
// writes are dropped.
func (in *Ingester) advance(c Cursor) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.cursor.Before(c) {
		return
	}

	in.cursor = c
	if err := SaveCursor(in.cursorPath, c); err != nil {
		log.Errorf("failed to persist cursor: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
