// Package knowledge implements the KnowledgeStore: sole authority over
// CoinScore, TradingPattern, RegimeRule and Adaptation records (spec §4.7).
// Every mutation is a single critical section, persisted atomically before
// the call returns, with the teacher's load-cache-save directory-of-JSON
// persistence shape (one file per key, one subdirectory per table).
package knowledge

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/paperengine/pkg/errs"
	"github.com/atlas-desktop/paperengine/pkg/money"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuickUpdateResult reports what ApplyQuickUpdate changed, per spec §4.5's
// process() contract.
type QuickUpdateResult struct {
	CoinAdaptation     *types.Adaptation
	PatternAdaptation  *types.Adaptation
	PatternDeactivated bool
}

// Store is the KnowledgeStore.
type Store struct {
	logger     *zap.Logger
	thresholds types.ScoreThresholds

	mu          sync.RWMutex
	coinScores  map[string]types.CoinScore
	patterns    map[string]types.TradingPattern
	rules       map[string]types.RegimeRule
	adaptations map[string]types.Adaptation
	adaptOrder  []string

	persist persister
}

// New builds a Store backed by dir, loading any previously persisted state.
func New(logger *zap.Logger, dir string, thresholds types.ScoreThresholds) (*Store, error) {
	p, err := newFilePersister(dir)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	s := &Store{
		logger:      logger.Named("knowledge-store"),
		thresholds:  thresholds,
		coinScores:  make(map[string]types.CoinScore),
		patterns:    make(map[string]types.TradingPattern),
		rules:       make(map[string]types.RegimeRule),
		adaptations: make(map[string]types.Adaptation),
		persist:     p,
	}
	if err := p.loadAll(s); err != nil {
		return nil, fmt.Errorf("load knowledge store: %w", err)
	}
	sort.Slice(s.adaptOrder, func(i, j int) bool {
		return s.adaptations[s.adaptOrder[i]].AppliedAt.Before(s.adaptations[s.adaptOrder[j]].AppliedAt)
	})
	return s, nil
}

// --- reads ---

// CoinScore returns the current record for coin, if known.
func (s *Store) CoinScore(coin string) (types.CoinScore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.coinScores[coin]
	return cs, ok
}

// AllCoinScores returns every known CoinScore.
func (s *Store) AllCoinScores() []types.CoinScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.CoinScore, 0, len(s.coinScores))
	for _, cs := range s.coinScores {
		out = append(out, cs)
	}
	return out
}

// Pattern returns the pattern for id, if known.
func (s *Store) Pattern(id string) (types.TradingPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[id]
	return p, ok
}

// ActivePatterns returns every pattern with is_active=true.
func (s *Store) ActivePatterns() []types.TradingPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TradingPattern, 0)
	for _, p := range s.patterns {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}

// ActiveRules returns every regime rule with is_active=true.
func (s *Store) ActiveRules() []types.RegimeRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.RegimeRule, 0)
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out
}

// AdaptationsSince returns every adaptation applied at or after t, oldest first.
func (s *Store) AdaptationsSince(t time.Time) []types.Adaptation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Adaptation, 0)
	for _, id := range s.adaptOrder {
		a := s.adaptations[id]
		if !a.AppliedAt.Before(t) {
			out = append(out, a)
		}
	}
	return out
}

// Adaptation returns a single adaptation by id.
func (s *Store) Adaptation(id string) (types.Adaptation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adaptations[id]
	return a, ok
}

// Context packages the view the StrategyProposer sends to the reasoning
// service (spec §4.2 step 1).
func (s *Store) Context() types.KnowledgeContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := types.KnowledgeContext{
		CoinSummaries:  make(map[string]types.CoinSummary, len(s.coinScores)),
		ActivePatterns: make([]types.TradingPattern, 0),
		ActiveRules:    make([]types.RegimeRule, 0),
	}
	var totalWins, totalTrades int
	var totalPnL decimal.Decimal
	for coin, cs := range s.coinScores {
		ctx.CoinSummaries[coin] = types.CoinSummary{Status: cs.Status, WinRate: cs.WinRate(), Trades: cs.TotalTrades}
		totalWins += cs.Wins
		totalTrades += cs.TotalTrades
		totalPnL = totalPnL.Add(cs.TotalPnL)
		switch cs.Status {
		case types.StatusBlacklisted:
			ctx.Blacklist = append(ctx.Blacklist, coin)
		case types.StatusFavored:
			ctx.Favored = append(ctx.Favored, coin)
		}
	}
	for _, p := range s.patterns {
		if p.IsActive {
			ctx.ActivePatterns = append(ctx.ActivePatterns, p)
		}
	}
	for _, r := range s.rules {
		if r.IsActive {
			ctx.ActiveRules = append(ctx.ActiveRules, r)
		}
	}
	if totalTrades > 0 {
		ctx.RecentWinRate = float64(totalWins) / float64(totalTrades)
	}
	ctx.RecentPnL = totalPnL
	sort.Strings(ctx.Blacklist)
	sort.Strings(ctx.Favored)
	return ctx
}

// --- writes ---

// ApplyQuickUpdate runs the QuickUpdater algorithm (spec §4.5 steps 1-4)
// against the KnowledgeStore's CoinScore and, if event.PatternID is set,
// TradingPattern records. It is the QuickUpdater's only path to mutating
// either, keeping invariant enforcement colocated with ownership.
func (s *Store) ApplyQuickUpdate(event types.TradeEvent) (QuickUpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result QuickUpdateResult

	score := s.coinScores[event.Coin]
	if score.Coin == "" {
		score.Coin = event.Coin
		score.Status = types.StatusUnknown
	}
	prevStatus := score.Status

	score.TotalTrades++
	if event.Won() {
		score.Wins++
		if score.CurrentStreak >= 0 {
			score.CurrentStreak++
		} else {
			score.CurrentStreak = 1
		}
	} else {
		score.Losses++
		if score.CurrentStreak <= 0 {
			score.CurrentStreak--
		} else {
			score.CurrentStreak = -1
		}
	}
	score.TotalPnL = score.TotalPnL.Add(event.PnLUSD)
	score.LastOutcomes = appendBounded(score.LastOutcomes, event.Won(), types.MaxOutcomeHistory)
	score.UpdatedAt = event.ExitTime

	newStatus := s.deriveStatus(score, prevStatus)
	score.Status = newStatus
	if newStatus == types.StatusBlacklisted && prevStatus != types.StatusBlacklisted {
		score.BlacklistReason = "win rate below threshold"
	}

	if err := checkCoinScoreInvariants(score); err != nil {
		s.logger.Fatal("coin score invariant violated", zap.Error(err), zap.String("coin", event.Coin))
	}
	s.coinScores[event.Coin] = score
	if err := s.persist.saveCoinScore(score); err != nil {
		return result, fmt.Errorf("%w: persist coin score: %v", errs.ErrTransient, err)
	}

	if newStatus != prevStatus {
		if kind, ok := statusAdaptationKind(newStatus); ok {
			adaptation := types.Adaptation{
				ID:            money.GenerateAdaptationID(),
				Kind:          kind,
				Target:        event.Coin,
				Reason:        "quick update status transition",
				AppliedAt:     event.ExitTime,
				MetricsBefore: types.Metrics{WinRate: metricsBefore(score, event), PnL: score.TotalPnL.Sub(event.PnLUSD), Trades: score.TotalTrades - 1},
				Effectiveness: types.EffPending,
				State:         types.AdaptationPending,
			}
			if err := s.recordAdaptation(adaptation); err != nil {
				return result, err
			}
			result.CoinAdaptation = &adaptation
		}
	}

	if event.PatternID != "" {
		patternAdaptation, deactivated, err := s.applyPatternUpdate(event)
		if err != nil {
			return result, err
		}
		result.PatternAdaptation = patternAdaptation
		result.PatternDeactivated = deactivated
	}

	return result, nil
}

func metricsBefore(score types.CoinScore, event types.TradeEvent) float64 {
	if score.TotalTrades <= 1 {
		return 0
	}
	wins := score.Wins
	if event.Won() {
		wins--
	}
	return float64(wins) / float64(score.TotalTrades-1)
}

func (s *Store) deriveStatus(score types.CoinScore, prevStatus types.CoinStatus) types.CoinStatus {
	if prevStatus == types.StatusBlacklisted {
		return types.StatusBlacklisted // only UNBLACKLIST recovers a blacklisted coin
	}
	if score.TotalTrades < s.thresholds.MinTradesForAdaptation {
		return types.StatusUnknown
	}
	winRate := score.WinRate()
	switch {
	case winRate < s.thresholds.BlacklistWinRate:
		return types.StatusBlacklisted
	case winRate < s.thresholds.ReduceWinRate:
		return types.StatusReduced
	case winRate > s.thresholds.FavorWinRate:
		return types.StatusFavored
	default:
		return types.StatusNormal
	}
}

func statusAdaptationKind(status types.CoinStatus) (types.AdaptationKind, bool) {
	switch status {
	case types.StatusBlacklisted:
		return types.AdaptBlacklist, true
	case types.StatusFavored:
		return types.AdaptFavor, true
	case types.StatusReduced:
		return types.AdaptReduce, true
	default:
		return "", false
	}
}

func (s *Store) applyPatternUpdate(event types.TradeEvent) (*types.Adaptation, bool, error) {
	pattern := s.patterns[event.PatternID]
	if pattern.PatternID == "" {
		pattern.PatternID = event.PatternID
		pattern.IsActive = true
		pattern.CreatedAt = event.ExitTime
	}

	pattern.TimesUsed++
	if event.Won() {
		pattern.Wins++
	} else {
		pattern.Losses++
	}
	pattern.TotalPnL = pattern.TotalPnL.Add(event.PnLUSD)
	pattern.RecentOutcomes = appendBounded(pattern.RecentOutcomes, event.Won(), types.RecentWindow)
	pattern.LastUsedAt = event.ExitTime

	if pattern.TimesUsed < 3 {
		pattern.Confidence = 0.5
	} else {
		recentPerf := winRateOf(pattern.RecentOutcomes)
		overall := float64(pattern.Wins) / float64(pattern.TimesUsed)
		pattern.Confidence = 0.7*overall + 0.3*recentPerf
	}

	wasActive := pattern.IsActive
	deactivate := pattern.Confidence < s.thresholds.DeactivatePatternConf ||
		lastNAllLosses(pattern.RecentOutcomes, 5) ||
		pattern.TotalPnL.LessThan(decimal.NewFromInt(-100))

	var adaptation *types.Adaptation
	deactivated := false
	if deactivate && wasActive {
		pattern.IsActive = false
		deactivated = true
		a := types.Adaptation{
			ID:            money.GenerateAdaptationID(),
			Kind:          types.AdaptDeactivatePattern,
			Target:        pattern.PatternID,
			Reason:        "confidence or loss-streak threshold breached",
			AppliedAt:     event.ExitTime,
			MetricsBefore: types.Metrics{WinRate: winRateOf(pattern.RecentOutcomes), PnL: pattern.TotalPnL, Trades: pattern.TimesUsed},
			Effectiveness: types.EffPending,
			State:         types.AdaptationPending,
		}
		if err := s.recordAdaptation(a); err != nil {
			return nil, false, err
		}
		adaptation = &a
	}

	if pattern.Confidence < 0 || pattern.Confidence > 1 {
		s.logger.Fatal("pattern confidence invariant violated", zap.String("pattern_id", pattern.PatternID), zap.Float64("confidence", pattern.Confidence))
	}
	s.patterns[pattern.PatternID] = pattern
	if err := s.persist.savePattern(pattern); err != nil {
		return adaptation, deactivated, fmt.Errorf("%w: persist pattern: %v", errs.ErrTransient, err)
	}
	return adaptation, deactivated, nil
}

// ApplyAdaptation applies a reflection-derived Adaptation to the owning
// record and persists both atomically.
func (s *Store) ApplyAdaptation(a types.Adaptation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyAdaptationMutation(a)
}

func (s *Store) applyAdaptationMutation(a types.Adaptation) error {
	switch a.Kind {
	case types.AdaptBlacklist:
		s.setCoinStatus(a.Target, types.StatusBlacklisted, a.Reason)
	case types.AdaptFavor:
		s.setCoinStatus(a.Target, types.StatusFavored, "")
	case types.AdaptReduce:
		s.setCoinStatus(a.Target, types.StatusReduced, "")
	case types.AdaptUnblacklist:
		s.setCoinStatus(a.Target, types.StatusNormal, "")
	case types.AdaptDeactivatePattern:
		if p, ok := s.patterns[a.Target]; ok {
			p.IsActive = false
			s.patterns[a.Target] = p
			if err := s.persist.savePattern(p); err != nil {
				return fmt.Errorf("%w: persist pattern: %v", errs.ErrTransient, err)
			}
		}
	case types.AdaptCreateRule:
		rule := types.RegimeRule{
			RuleID:      a.Target,
			Description: a.Reason,
			Action:      parseRegimeAction(a.Reason),
			SizeFactor:  decimal.NewFromFloat(0.5),
			IsActive:    true,
			CreatedAt:   a.AppliedAt,
		}
		s.rules[rule.RuleID] = rule
		if err := s.persist.saveRule(rule); err != nil {
			return fmt.Errorf("%w: persist rule: %v", errs.ErrTransient, err)
		}
	case types.AdaptAdjustParams:
		// No KnowledgeStore-owned record corresponds to a free-form parameter
		// adjustment; the Adaptation itself is the durable record of intent.
	}
	if err := s.recordAdaptation(a); err != nil {
		return err
	}
	return nil
}

func parseRegimeAction(reason string) types.RegimeAction {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "skip"):
		return types.RegimeSkip
	case strings.Contains(lower, "favor"):
		return types.RegimeFavor
	default:
		return types.RegimeReduceSize
	}
}

func (s *Store) setCoinStatus(coin string, status types.CoinStatus, reason string) {
	score := s.coinScores[coin]
	if score.Coin == "" {
		score.Coin = coin
	}
	score.Status = status
	score.BlacklistReason = reason
	score.UpdatedAt = time.Now()
	s.coinScores[coin] = score
	if err := s.persist.saveCoinScore(score); err != nil {
		s.logger.Warn("failed to persist coin score", zap.String("coin", coin), zap.Error(err))
	}
}

// SetRuleActive creates rule (if unknown) or updates its active state and
// increments its trigger count when activating. Used by internal/regime to
// reflect its own market classification into KnowledgeStore-owned rules,
// distinct from reflection-sourced CREATE_RULE adaptations.
func (s *Store) SetRuleActive(ruleID, description string, action types.RegimeAction, sizeFactor decimal.Decimal, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		rule = types.RegimeRule{
			RuleID:      ruleID,
			Description: description,
			Action:      action,
			SizeFactor:  sizeFactor,
			CreatedAt:   time.Now(),
		}
	}
	wasActive := rule.IsActive
	rule.IsActive = active
	if active && !wasActive {
		rule.TriggerCount++
	}
	s.rules[ruleID] = rule
	if err := s.persist.saveRule(rule); err != nil {
		return fmt.Errorf("%w: persist rule: %v", errs.ErrTransient, err)
	}
	return nil
}

// ForceBlacklist manually blacklists coin, recorded as a manual Adaptation.
func (s *Store) ForceBlacklist(coin, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyAdaptationMutation(types.Adaptation{
		ID:            money.GenerateAdaptationID(),
		Kind:          types.AdaptBlacklist,
		Target:        coin,
		Reason:        "manual",
		AppliedAt:     time.Now(),
		Effectiveness: types.EffPending,
		State:         types.AdaptationPending,
	})
}

// Unblacklist manually clears a coin's blacklist status, recorded as a
// manual Adaptation. This is the only path by which a BLACKLISTED coin
// recovers.
func (s *Store) Unblacklist(coin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyAdaptationMutation(types.Adaptation{
		ID:            money.GenerateAdaptationID(),
		Kind:          types.AdaptUnblacklist,
		Target:        coin,
		Reason:        "manual",
		AppliedAt:     time.Now(),
		Effectiveness: types.EffPending,
		State:         types.AdaptationPending,
	})
}

// RateAdaptation records the measured effectiveness of a previously-applied
// adaptation and, if HARMFUL on a reversible kind, rolls it back (spec §4.6
// effectiveness measurement).
func (s *Store) RateAdaptation(id string, after types.Metrics, effectiveness types.Effectiveness) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.adaptations[id]
	if !ok {
		return fmt.Errorf("%w: unknown adaptation %s", errs.ErrStateViolation, id)
	}
	a.MetricsAfter = &after
	a.Effectiveness = effectiveness
	a.State = types.AdaptationRated

	if effectiveness == types.EffHarmful && isReversible(a.Kind) {
		if err := s.invert(a); err != nil {
			return err
		}
		a.RolledBack = true
		a.State = types.AdaptationRolledBack
	}

	s.adaptations[id] = a
	return s.persist.saveAdaptation(a)
}

// RollbackAdaptation manually reverses a, allowed from any rated state.
func (s *Store) RollbackAdaptation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.adaptations[id]
	if !ok {
		return fmt.Errorf("%w: unknown adaptation %s", errs.ErrStateViolation, id)
	}
	if err := s.invert(a); err != nil {
		return err
	}
	a.RolledBack = true
	a.State = types.AdaptationRolledBack
	s.adaptations[id] = a
	return s.persist.saveAdaptation(a)
}

func isReversible(kind types.AdaptationKind) bool {
	switch kind {
	case types.AdaptBlacklist, types.AdaptFavor, types.AdaptCreateRule, types.AdaptDeactivatePattern:
		return true
	default:
		return false
	}
}

func (s *Store) invert(a types.Adaptation) error {
	switch a.Kind {
	case types.AdaptBlacklist, types.AdaptFavor, types.AdaptReduce:
		s.setCoinStatus(a.Target, types.StatusNormal, "")
	case types.AdaptCreateRule:
		if r, ok := s.rules[a.Target]; ok {
			r.IsActive = false
			s.rules[a.Target] = r
			if err := s.persist.saveRule(r); err != nil {
				return fmt.Errorf("%w: persist rule: %v", errs.ErrTransient, err)
			}
		}
	case types.AdaptDeactivatePattern:
		if p, ok := s.patterns[a.Target]; ok {
			p.IsActive = true
			s.patterns[a.Target] = p
			if err := s.persist.savePattern(p); err != nil {
				return fmt.Errorf("%w: persist pattern: %v", errs.ErrTransient, err)
			}
		}
	}
	return nil
}

func (s *Store) recordAdaptation(a types.Adaptation) error {
	if _, exists := s.adaptations[a.ID]; !exists {
		s.adaptOrder = append(s.adaptOrder, a.ID)
	}
	s.adaptations[a.ID] = a
	if err := s.persist.saveAdaptation(a); err != nil {
		return fmt.Errorf("%w: persist adaptation: %v", errs.ErrTransient, err)
	}
	return nil
}

func checkCoinScoreInvariants(cs types.CoinScore) error {
	if cs.TotalTrades != cs.Wins+cs.Losses {
		return fmt.Errorf("%w: total_trades=%d != wins(%d)+losses(%d)", errs.ErrStateViolation, cs.TotalTrades, cs.Wins, cs.Losses)
	}
	return nil
}

func appendBounded(outcomes []bool, won bool, max int) []bool {
	outcomes = append(outcomes, won)
	if len(outcomes) > max {
		outcomes = outcomes[len(outcomes)-max:]
	}
	return outcomes
}

func winRateOf(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	wins := 0
	for _, w := range outcomes {
		if w {
			wins++
		}
	}
	return float64(wins) / float64(len(outcomes))
}

func lastNAllLosses(outcomes []bool, n int) bool {
	if len(outcomes) < n {
		return false
	}
	for _, w := range outcomes[len(outcomes)-n:] {
		if w {
			return false
		}
	}
	return true
}
