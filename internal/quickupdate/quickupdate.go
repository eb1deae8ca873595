// Package quickupdate implements the QuickUpdater: synchronous, <10ms
// post-trade math that turns a single TradeEvent into knowledge deltas and
// an entry on the reflection queue (spec §4.5). The mutation itself lives
// in internal/knowledge, the sole owner of CoinScore and TradingPattern;
// this package is the idempotence gate and dispatcher in front of it.
package quickupdate

import (
	"container/list"
	"sync"

	"github.com/atlas-desktop/paperengine/internal/knowledge"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"go.uber.org/zap"
)

// processedIDsCap bounds the idempotence LRU (spec §4.5: "LRU-bounded").
const processedIDsCap = 10_000

// Store is the subset of knowledge.Store the updater needs.
type Store interface {
	ApplyQuickUpdate(event types.TradeEvent) (knowledge.QuickUpdateResult, error)
}

// ReflectionQueue receives processed events for batched deep analysis.
type ReflectionQueue interface {
	Enqueue(event types.TradeEvent)
}

// Updater applies QuickUpdate exactly once per trade_id.
type Updater struct {
	logger *zap.Logger
	store  Store
	queue  ReflectionQueue

	mu        sync.Mutex
	processed map[string]*list.Element
	order     *list.List
}

// New builds an Updater.
func New(logger *zap.Logger, store Store, queue ReflectionQueue) *Updater {
	return &Updater{
		logger:    logger.Named("quick-updater"),
		store:     store,
		queue:     queue,
		processed: make(map[string]*list.Element),
		order:     list.New(),
	}
}

// Result mirrors spec §4.5's process() contract.
type Result struct {
	CoinAdaptation     *types.Adaptation
	PatternDeactivated bool
}

// Process runs the QuickUpdate algorithm for event exactly once. A
// duplicate trade_id is a no-op, reported via the bool return.
func (u *Updater) Process(event types.TradeEvent) (Result, bool) {
	u.mu.Lock()
	if u.seenLocked(event.TradeID) {
		u.mu.Unlock()
		return Result{}, false
	}
	u.markSeenLocked(event.TradeID)
	u.mu.Unlock()

	qr, err := u.store.ApplyQuickUpdate(event)
	if err != nil {
		u.logger.Error("quick update failed", zap.String("trade_id", event.TradeID), zap.Error(err))
		return Result{}, true
	}

	u.queue.Enqueue(event)

	return Result{CoinAdaptation: qr.CoinAdaptation, PatternDeactivated: qr.PatternDeactivated}, true
}

func (u *Updater) seenLocked(tradeID string) bool {
	_, ok := u.processed[tradeID]
	return ok
}

func (u *Updater) markSeenLocked(tradeID string) {
	el := u.order.PushBack(tradeID)
	u.processed[tradeID] = el
	if u.order.Len() > processedIDsCap {
		oldest := u.order.Front()
		u.order.Remove(oldest)
		delete(u.processed, oldest.Value.(string))
	}
}
