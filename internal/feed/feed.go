// Package feed maintains a continuously updated view of the tradeable
// universe: latest prices, recent klines, and a derived market snapshot.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/paperengine/pkg/errs"
	"github.com/atlas-desktop/paperengine/pkg/money"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ConnState is the feed's connection state machine.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// Config configures the feed.
type Config struct {
	WSURL               string
	Universe            []string
	VolatilityWindow     int           // hourly samples, default 24
	StaleThreshold       time.Duration // default 10s
	BackoffBase          time.Duration // default 1s
	BackoffCap           time.Duration // default 60s
	ListenerBufferSize   int           // per-listener ring buffer depth
}

// DefaultConfig returns spec.md §4.1's stated defaults.
func DefaultConfig() Config {
	return Config{
		WSURL:              "wss://stream.exchange.example/ws",
		VolatilityWindow:   24,
		StaleThreshold:     10 * time.Second,
		BackoffBase:        1 * time.Second,
		BackoffCap:         60 * time.Second,
		ListenerBufferSize: 256,
	}
}

type priceEntry struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// listener is a registered onPriceChange subscriber with its own bounded,
// drop-oldest ring buffer so a slow consumer never blocks the feed.
type listener struct {
	ch chan priceTick
}

type priceTick struct {
	coin  string
	price decimal.Decimal
	ts    time.Time
}

// Feed is the MarketFeed of spec.md §4.1.
type Feed struct {
	logger *zap.Logger
	cfg    Config

	mu    sync.RWMutex
	state ConnState
	conn  *websocket.Conn

	subMu         sync.Mutex
	subscriptions map[string]bool

	priceMu sync.RWMutex
	prices  map[string]priceEntry
	returns map[string][]float64 // hourly return samples per coin, for volatility
	change24h map[string]decimal.Decimal // latest 1h close vs the open 24 hourly candles back (fewer while the cache fills)

	klineMu sync.RWMutex
	klines  map[string]map[string][]types.OHLCV // coin -> interval -> candles

	listenerMu sync.Mutex
	listeners  []*listener
	dropCounts []int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectAttempt int

	lastSeenTs sync.Map // (symbol,kind) -> int64, de-dupes out-of-order records
}

// New creates a Feed. Call Start to connect and begin streaming.
func New(logger *zap.Logger, cfg Config) *Feed {
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = 24
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 60 * time.Second
	}
	if cfg.ListenerBufferSize <= 0 {
		cfg.ListenerBufferSize = 256
	}

	f := &Feed{
		logger:        logger.Named("market-feed"),
		cfg:           cfg,
		subscriptions: make(map[string]bool),
		prices:        make(map[string]priceEntry),
		returns:       make(map[string][]float64),
		change24h:     make(map[string]decimal.Decimal),
		klines:        make(map[string]map[string][]types.OHLCV),
	}
	for _, c := range cfg.Universe {
		f.subscriptions[strings.ToUpper(c)] = true
	}
	return f
}

// Start connects the WebSocket and begins the read and reconnect loops.
func (f *Feed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	if err := f.connect(); err != nil {
		f.logger.Warn("initial connect failed, entering reconnect loop", zap.Error(err))
		f.setState(Reconnecting)
	}

	f.wg.Add(2)
	go f.readLoop()
	go f.reconnectLoop()

	return nil
}

// Stop closes the socket and drains background loops.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Feed) setState(s ConnState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// State returns the current connection state.
func (f *Feed) State() ConnState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *Feed) connect() error {
	f.setState(Connecting)
	conn, _, err := websocket.DefaultDialer.Dial(f.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial exchange websocket: %v", errs.ErrTransient, err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.setState(Connected)
	f.reconnectAttempt = 0

	f.subMu.Lock()
	symbols := make([]string, 0, len(f.subscriptions))
	for s := range f.subscriptions {
		symbols = append(symbols, s)
	}
	f.subMu.Unlock()
	for _, s := range symbols {
		_ = f.sendSubscribe(s)
	}
	return nil
}

// Subscribe ensures the feed is receiving updates for each symbol.
// Idempotent.
func (f *Feed) Subscribe(symbols ...string) error {
	f.subMu.Lock()
	var newSymbols []string
	for _, s := range symbols {
		s = strings.ToUpper(s)
		if !f.subscriptions[s] {
			f.subscriptions[s] = true
			newSymbols = append(newSymbols, s)
		}
	}
	f.subMu.Unlock()

	if f.State() != Connected {
		return nil // will resubscribe on (re)connect
	}
	for _, s := range newSymbols {
		if err := f.sendSubscribe(s); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) sendSubscribe(symbol string) error {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%w: no active connection", errs.ErrTransient)
	}
	msg := map[string]any{
		"method": "SUBSCRIBE",
		"params": []string{
			strings.ToLower(symbol) + "@trade",
			strings.ToLower(symbol) + "@kline_1m",
			strings.ToLower(symbol) + "@kline_1h",
		},
		"id": time.Now().UnixNano(),
	}
	return conn.WriteJSON(msg)
}

func (f *Feed) readLoop() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.ctx.Done():
				return
			default:
			}
			f.logger.Warn("websocket read error, reconnecting", zap.Error(err))
			f.setState(Reconnecting)
			f.mu.Lock()
			if f.conn != nil {
				f.conn.Close()
				f.conn = nil
			}
			f.mu.Unlock()
			continue
		}
		f.handleMessage(raw)
	}
}

// wireRecord is the exchange's opaque inbound record shape (spec §6):
// {symbol, price, timestamp_ms, kind}. Duplicate/out-of-order messages are
// tolerated by keeping the one with the largest timestamp per (symbol, kind).
type wireRecord struct {
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	TimestampMs int64  `json:"timestamp_ms"`
	Kind        string `json:"kind"`
	Open        string `json:"open,omitempty"`
	High        string `json:"high,omitempty"`
	Low         string `json:"low,omitempty"`
	Close       string `json:"close,omitempty"`
	Volume      string `json:"volume,omitempty"`
}

func (f *Feed) handleMessage(raw []byte) {
	var rec wireRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return // malformed upstream message: input-validity, skip silently
	}
	if rec.Symbol == "" {
		return
	}
	key := rec.Symbol + "|" + rec.Kind
	if prev, ok := f.lastSeenTs.Load(key); ok && prev.(int64) >= rec.TimestampMs {
		return
	}
	f.lastSeenTs.Store(key, rec.TimestampMs)

	switch rec.Kind {
	case "trade":
		f.handleTrade(rec)
	case "kline_1m", "kline_1h":
		f.handleKline(rec)
	}
}

func (f *Feed) handleTrade(rec wireRecord) {
	price, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return
	}
	ts := time.UnixMilli(rec.TimestampMs)
	f.priceMu.Lock()
	f.prices[rec.Symbol] = priceEntry{price: price, updatedAt: ts}
	f.priceMu.Unlock()
	f.broadcast(rec.Symbol, price, ts)
}

func (f *Feed) handleKline(rec wireRecord) {
	open, _ := decimal.NewFromString(rec.Open)
	high, _ := decimal.NewFromString(rec.High)
	low, _ := decimal.NewFromString(rec.Low)
	closePx, _ := decimal.NewFromString(rec.Close)
	vol, _ := decimal.NewFromString(rec.Volume)
	interval := strings.TrimPrefix(rec.Kind, "kline_")

	candle := types.OHLCV{
		Timestamp: time.UnixMilli(rec.TimestampMs),
		Open:      open, High: high, Low: low, Close: closePx, Volume: vol,
	}

	f.klineMu.Lock()
	if f.klines[rec.Symbol] == nil {
		f.klines[rec.Symbol] = make(map[string][]types.OHLCV)
	}
	series := append(f.klines[rec.Symbol][interval], candle)
	if len(series) > 500 {
		series = series[len(series)-500:]
	}
	f.klines[rec.Symbol][interval] = series
	f.klineMu.Unlock()

	if interval == "1h" {
		f.priceMu.Lock()
		ret := money.PercentChange(open, closePx)
		samples := append(f.returns[rec.Symbol], func() float64 { v, _ := ret.Float64(); return v }())
		if len(samples) > f.cfg.VolatilityWindow {
			samples = samples[len(samples)-f.cfg.VolatilityWindow:]
		}
		f.returns[rec.Symbol] = samples
		first := series[0]
		if len(series) > 24 {
			first = series[len(series)-24]
		}
		f.change24h[rec.Symbol] = money.PercentChange(first.Open, closePx)
		f.priceMu.Unlock()
	}
}

// broadcast delivers a tick to every listener via its bounded ring buffer,
// dropping the oldest pending tick (and counting it) for a slow listener.
func (f *Feed) broadcast(coin string, price decimal.Decimal, ts time.Time) {
	f.listenerMu.Lock()
	defer f.listenerMu.Unlock()
	for i, l := range f.listeners {
		tick := priceTick{coin: coin, price: price, ts: ts}
		select {
		case l.ch <- tick:
		default:
			select {
			case <-l.ch:
				f.dropCounts[i]++
			default:
			}
			select {
			case l.ch <- tick:
			default:
			}
		}
	}
}

// OnPriceChange registers fn to be invoked on every price update. fn runs on
// a dedicated goroutine per listener, fed by a bounded ring buffer; a slow fn
// causes intermediate updates to be dropped (drop-oldest, counted), never
// blocking the feed.
func (f *Feed) OnPriceChange(fn func(coin string, price decimal.Decimal, ts time.Time)) {
	l := &listener{ch: make(chan priceTick, f.cfg.ListenerBufferSize)}
	f.listenerMu.Lock()
	f.listeners = append(f.listeners, l)
	f.dropCounts = append(f.dropCounts, 0)
	f.listenerMu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-f.ctx.Done():
				return
			case tick := <-l.ch:
				fn(tick.coin, tick.price, tick.ts)
			}
		}
	}()
}

// Price returns the latest mid price and its age. Fails with ErrStale if the
// cached entry is older than the configured staleness threshold.
func (f *Feed) Price(coin string) (decimal.Decimal, time.Duration, error) {
	f.priceMu.RLock()
	entry, ok := f.prices[strings.ToUpper(coin)]
	f.priceMu.RUnlock()
	if !ok {
		return decimal.Zero, 0, fmt.Errorf("%w: no price cached for %s", errs.ErrInputValidity, coin)
	}
	age := time.Since(entry.updatedAt)
	if age > f.cfg.StaleThreshold {
		return entry.price, age, fmt.Errorf("%w: %s price is %s old", errs.ErrStale, coin, age)
	}
	return entry.price, age, nil
}

// Klines returns the n most recently closed candles for (coin, interval).
// Fails with ErrInsufficientHistory if fewer are cached.
func (f *Feed) Klines(coin, interval string, n int) ([]types.OHLCV, error) {
	f.klineMu.RLock()
	defer f.klineMu.RUnlock()
	series := f.klines[strings.ToUpper(coin)][interval]
	if len(series) < n {
		return nil, fmt.Errorf("%w: have %d candles, need %d", errs.ErrInsufficientHistory, len(series), n)
	}
	return append([]types.OHLCV(nil), series[len(series)-n:]...), nil
}

// Snapshot returns a coherent, point-in-time MarketState across the universe.
// Stale entries are marked rather than silently mixed with fresh ones.
func (f *Feed) Snapshot() types.MarketState {
	f.priceMu.RLock()
	defer f.priceMu.RUnlock()

	now := time.Now()
	coins := make(map[string]types.CoinState, len(f.prices))
	for coin, entry := range f.prices {
		stale := now.Sub(entry.updatedAt) > f.cfg.StaleThreshold
		vol := f.volatility(coin)
		coins[coin] = types.CoinState{
			Coin:              coin,
			Price:             entry.price,
			Change24h:         f.change24h[coin],
			RollingVolatility: vol,
			Stale:             stale,
		}
	}

	btc := coins["BTC"]
	sentiment := "neutral"
	if btc.Change24h.GreaterThan(decimal.NewFromFloat(0.03)) {
		sentiment = "bullish"
	} else if btc.Change24h.LessThan(decimal.NewFromFloat(-0.03)) {
		sentiment = "bearish"
	}

	return types.MarketState{
		Coins:        coins,
		BTCChange1h:  decimal.Zero,
		BTCChange24h: btc.Change24h,
		Sentiment:    sentiment,
		Timestamp:    now,
	}
}

// volatility returns the standard deviation of the last VolatilityWindow
// hourly returns; falling back to |24h change|/sqrt(24) with fewer samples
// (spec §4.1 algorithm note). Caller must hold priceMu (at least RLock).
func (f *Feed) volatility(coin string) decimal.Decimal {
	samples := f.returns[coin]
	if len(samples) >= 2 {
		return decimal.NewFromFloat(money.StdDev(samples))
	}
	change, _ := f.change24h[coin].Float64()
	return decimal.NewFromFloat(math.Abs(change) / math.Sqrt(24))
}

func (f *Feed) reconnectLoop() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		if f.State() != Reconnecting {
			continue
		}
		delay := backoffDelay(f.cfg.BackoffBase, f.cfg.BackoffCap, f.reconnectAttempt)
		f.logger.Info("attempting reconnect", zap.Duration("delay", delay), zap.Int("attempt", f.reconnectAttempt))
		time.Sleep(delay)
		f.reconnectAttempt++
		if err := f.connect(); err != nil {
			f.logger.Warn("reconnect failed", zap.Error(err))
		}
	}
}

// backoffDelay computes exponential backoff base·2^attempt capped at cap, plus
// a random jitter in [0, base), so the result can exceed cap by less than base.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	mult := math.Pow(2, float64(attempt))
	d := time.Duration(float64(base) * mult)
	if d > cap || d <= 0 {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(base)))
	return d + jitter
}
