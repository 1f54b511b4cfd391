package ingest

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openllm-network/oracled/oracle/log"
	"github.com/openllm-network/oracled/oracle/types"
)

func TestMain(m *testing.M) {
	log.InitLogger()
	m.Run()
}

type fakeChain struct {
	head     uint64
	logs     []ethtypes.Log
	queries  [][2]uint64
	queryErr error
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, from, to uint64) ([]ethtypes.Log, error) {
	f.queries = append(f.queries, [2]uint64{from, to})
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	var out []ethtypes.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}

	return out, nil
}

func (f *fakeChain) SubscribeLogs(context.Context, chan<- ethtypes.Log) (ethereum.Subscription, error) {
	return nil, errors.New("no ws endpoint")
}

func (f *fakeChain) HasSubscription() bool {
	return false
}

var newRequestTopic = crypto.Keccak256Hash([]byte("NewRequest(uint256,uint8)"))

func newRequestLog(block uint64, index uint, id int64, redundancy byte) ethtypes.Log {
	return ethtypes.Log{
		BlockNumber: block,
		Index:       index,
		Topics: []common.Hash{
			newRequestTopic,
			common.BigToHash(big.NewInt(id)),
		},
		Data: common.LeftPadBytes([]byte{redundancy}, 32),
	}
}

func nodeAddedLog(block uint64, index uint, node common.Address) ethtypes.Log {
	return ethtypes.Log{
		BlockNumber: block,
		Index:       index,
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte("NodeAdded(address)")),
			common.BytesToHash(node.Bytes()),
		},
	}
}

func drain(in *Ingester) []types.Event {
	var events []types.Event
	for {
		select {
		case ev := <-in.events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestCatchUpFromPersistedCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")
	require.NoError(t, SaveCursor(path, Cursor{Block: 100, LogIndex: 5}))

	chain := &fakeChain{
		head: 250,
		logs: []ethtypes.Log{
			newRequestLog(100, 3, 11, 2), // at or below the cursor, must not re-deliver
			newRequestLog(100, 7, 12, 2),
			newRequestLog(150, 0, 13, 1),
		},
	}

	in := New(chain, path, 16)
	cursor, err := LoadCursor(path)
	require.NoError(t, err)
	in.cursor = cursor

	in.catchUp(context.Background())

	require.Equal(t, [][2]uint64{{100, 250}}, chain.queries)

	events := drain(in)
	require.Len(t, events, 2)
	assert.Equal(t, int64(12), events[0].(types.NewRequestEvent).RequestID.Int64())
	assert.Equal(t, int64(13), events[1].(types.NewRequestEvent).RequestID.Int64())

	// The cursor lands on (head, sentinel) and is durable.
	persisted, err := LoadCursor(path)
	require.NoError(t, err)
	assert.Equal(t, Cursor{Block: 250, LogIndex: MaxLogIndex}, persisted)
}

func TestCatchUpLegacyCursorRedeliversBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")
	require.NoError(t, SaveCursor(path, Cursor{Block: 42, LogIndex: -1}))

	chain := &fakeChain{
		head: 42,
		logs: []ethtypes.Log{newRequestLog(42, 0, 7, 1)},
	}

	in := New(chain, path, 16)
	in.cursor = Cursor{Block: 42, LogIndex: -1}

	in.catchUp(context.Background())

	events := drain(in)
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].(types.NewRequestEvent).RequestID.Int64())

	// Re-running the catch-up must not deliver the block again.
	in.catchUp(context.Background())
	assert.Empty(t, drain(in))
}

func TestCatchUpFreshStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")

	chain := &fakeChain{head: 5}
	in := New(chain, path, 16)
	in.cursor = Cursor{Block: 0, LogIndex: -1}

	in.catchUp(context.Background())

	require.Equal(t, [][2]uint64{{1, 5}}, chain.queries)
}

func TestCatchUpRangeSplitting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")

	chain := &fakeChain{head: 25_000}
	in := New(chain, path, 16)
	in.cursor = Cursor{Block: 0, LogIndex: -1}

	in.catchUp(context.Background())

	require.Equal(t, [][2]uint64{{1, 10_000}, {10_001, 20_000}, {20_001, 25_000}}, chain.queries)
}

func TestCatchUpCursorAheadOfHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")

	chain := &fakeChain{head: 10}
	in := New(chain, path, 16)
	in.cursor = Cursor{Block: 50, LogIndex: MaxLogIndex}

	in.catchUp(context.Background())

	assert.Empty(t, chain.queries)
}

func TestCatchUpQueryFailureKeepsCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")
	require.NoError(t, SaveCursor(path, Cursor{Block: 10, LogIndex: 2}))

	chain := &fakeChain{head: 20, queryErr: errors.New("rpc down")}
	in := New(chain, path, 16)
	in.cursor = Cursor{Block: 10, LogIndex: 2}

	in.catchUp(context.Background())

	assert.Empty(t, drain(in))
	// The failed range holds the cursor back so a restart replays it.
	assert.Equal(t, Cursor{Block: 10, LogIndex: 2}, in.snapshot())
}

func TestHandleLogDeliversMembershipEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")

	node := common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	in := New(&fakeChain{}, path, 16)
	in.cursor = Cursor{Block: 0, LogIndex: -1}

	ok := in.handleLog(context.Background(), nodeAddedLog(9, 1, node))
	require.True(t, ok)

	events := drain(in)
	require.Len(t, events, 1)
	change := events[0].(types.NodeChangeEvent)
	assert.Equal(t, node, change.Node)
	assert.True(t, change.Added)

	assert.Equal(t, Cursor{Block: 9, LogIndex: 1}, in.snapshot())
}

func TestHandleLogIgnoresForeignSignatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")

	in := New(&fakeChain{}, path, 16)
	in.cursor = Cursor{Block: 0, LogIndex: -1}

	foreign := ethtypes.Log{
		BlockNumber: 5,
		Index:       0,
		Topics:      []common.Hash{crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))},
	}
	require.True(t, in.handleLog(context.Background(), foreign))

	assert.Empty(t, drain(in))
	// An ignored log does not advance the cursor.
	assert.Equal(t, Cursor{Block: 0, LogIndex: -1}, in.snapshot())
}

func TestAdvanceIsMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")

	in := New(&fakeChain{}, path, 16)
	in.cursor = Cursor{Block: 100, LogIndex: 5}

	in.advance(Cursor{Block: 99, LogIndex: 50})
	assert.Equal(t, Cursor{Block: 100, LogIndex: 5}, in.snapshot())

	in.advance(Cursor{Block: 100, LogIndex: 6})
	assert.Equal(t, Cursor{Block: 100, LogIndex: 6}, in.snapshot())
}
