// Package journal implements the Trade Journal: the append-only, durable
// log of every closed TradeEvent (spec §4.4). One JSON file per trade_id
// under a configured directory, written atomically via a temp-file-then-
// rename, the same load-cache-save shape the teacher's data store uses,
// strengthened here since the teacher wrote directly to the target path.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/paperengine/pkg/types"
	"go.uber.org/zap"
)

// Journal is a many-readers/one-writer durable TradeEvent log.
type Journal struct {
	logger *zap.Logger
	dir    string

	mu     sync.RWMutex // guards writes; readers take RLock over the cache
	cache  map[string]types.TradeEvent
	order  []string // trade_ids in insertion order, for recent()/since()
}

// New opens (creating if absent) a Journal rooted at dir, loading any
// previously persisted events into its in-memory cache.
func New(logger *zap.Logger, dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	j := &Journal{
		logger: logger.Named("journal"),
		dir:    dir,
		cache:  make(map[string]types.TradeEvent),
	}
	if err := j.load(); err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	return j, nil
}

func (j *Journal) load() error {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return err
	}
	events := make([]types.TradeEvent, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(j.dir, entry.Name()))
		if err != nil {
			j.logger.Warn("skipping unreadable journal file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		var event types.TradeEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			j.logger.Warn("skipping corrupt journal file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	sort.Slice(events, func(a, b int) bool { return events[a].ExitTime.Before(events[b].ExitTime) })
	for _, e := range events {
		j.cache[e.TradeID] = e
		j.order = append(j.order, e.TradeID)
	}
	return nil
}

// Record durably appends event before returning. Per spec §4.4 failure
// semantics, a write failure is returned to the caller (in the engine, the
// TradeEvent bus subscriber), which logs it; the position closure that
// produced the event is not undone.
func (j *Journal) Record(event types.TradeEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writeAtomic(event); err != nil {
		return fmt.Errorf("write trade event %s: %w", event.TradeID, err)
	}
	if _, exists := j.cache[event.TradeID]; !exists {
		j.order = append(j.order, event.TradeID)
	}
	j.cache[event.TradeID] = event
	return nil
}

func (j *Journal) writeAtomic(event types.TradeEvent) error {
	raw, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	target := j.path(event.TradeID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (j *Journal) path(tradeID string) string {
	return filepath.Join(j.dir, tradeID+".json")
}

// Get returns the event for tradeID, if present.
func (j *Journal) Get(tradeID string) (types.TradeEvent, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	e, ok := j.cache[tradeID]
	return e, ok
}

// Since returns every event with exit_time >= t, oldest first.
func (j *Journal) Since(t time.Time) []types.TradeEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]types.TradeEvent, 0)
	for _, id := range j.order {
		e := j.cache[id]
		if !e.ExitTime.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns the n most recently recorded events, newest last.
func (j *Journal) Recent(n int) []types.TradeEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n > len(j.order) {
		n = len(j.order)
	}
	start := len(j.order) - n
	out := make([]types.TradeEvent, 0, n)
	for _, id := range j.order[start:] {
		out = append(out, j.cache[id])
	}
	return out
}

// CountsByCoin returns, for every coin with at least one event since t, the
// number of trades and the win count.
func (j *Journal) CountsByCoin(since time.Time) map[string]CoinCounts {
	j.mu.RLock()
	defer j.mu.RUnlock()

	counts := make(map[string]CoinCounts)
	for _, id := range j.order {
		e := j.cache[id]
		if e.ExitTime.Before(since) {
			continue
		}
		c := counts[e.Coin]
		c.Trades++
		if e.Won() {
			c.Wins++
		}
		counts[e.Coin] = c
	}
	return counts
}

// CoinCounts is a trade/win tally for one coin over a window.
type CoinCounts struct {
	Trades int
	Wins   int
}
