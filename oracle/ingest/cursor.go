package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MaxLogIndex is the "no more events expected for this block" sentinel.
const MaxLogIndex = int64(math.MaxInt64)

// Cursor is the durable (block, logIndex) watermark: every event at or below
// it has been delivered at most once and will not be delivered again.
// LogIndex -1 means no event of the block has been delivered yet.
type Cursor struct {
	Block    uint64 `json:"block"`
	LogIndex int64  `json:"logIndex"`
}

// Covers reports whether an event at (block, logIndex) is already accounted
// for by the cursor.
func (c Cursor) Covers(block uint64, logIndex uint) bool {
	if block != c.Block {
		return block < c.Block
	}

	return int64(logIndex) <= c.LogIndex
}

// Before orders cursors lexicographically.
func (c Cursor) Before(other Cursor) bool {
	if c.Block != other.Block {
		return c.Block < other.Block
	}

	return c.LogIndex < other.LogIndex
}

// LoadCursor reads the persisted watermark. A missing file starts from
// scratch. The legacy single-decimal form is read as (block, -1), which
// re-delivers any event of that block.
func LoadCursor(path string) (Cursor, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Cursor{Block: 0, LogIndex: -1}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to read cursor file: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, "{") {
		var c Cursor
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return Cursor{}, fmt.Errorf("failed to parse cursor file %s: %w", path, err)
		}
		return c, nil
	}

	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to parse legacy cursor %q: %w", raw, err)
	}

	return Cursor{Block: block, LogIndex: -1}, nil
}

// SaveCursor writes the watermark synchronously so a crash loses at most the
// event being processed.
func SaveCursor(path string, c Cursor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cursor directory: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open cursor file: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("failed to write cursor file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync cursor file: %w", err)
	}

	return file.Close()
}
