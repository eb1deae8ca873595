package reasoning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atlas-desktop/paperengine/pkg/types"
)

func buildProposePrompt(snapshot types.MarketState, knowledge types.KnowledgeContext) string {
	var b strings.Builder
	b.WriteString("You are proposing paper-trading conditions for a crypto perpetuals engine.\n\n")
	fmt.Fprintf(&b, "Market snapshot at %s (BTC 1h %.2f%%, 24h %.2f%%, sentiment %s):\n",
		snapshot.Timestamp.Format("15:04:05"), snapshot.BTCChange1h.InexactFloat64()*100, snapshot.BTCChange24h.InexactFloat64()*100, snapshot.Sentiment)

	coins := make([]string, 0, len(snapshot.Coins))
	for c := range snapshot.Coins {
		coins = append(coins, c)
	}
	sort.Strings(coins)
	for _, coin := range coins {
		cs := snapshot.Coins[coin]
		stale := ""
		if cs.Stale {
			stale = " (stale)"
		}
		fmt.Fprintf(&b, "- %s: price %s, 24h change %.2f%%, volatility %.4f%s\n",
			coin, cs.Price.String(), cs.Change24h.InexactFloat64()*100, cs.RollingVolatility.InexactFloat64(), stale)
	}

	b.WriteString("\nKnowledge context:\n")
	fmt.Fprintf(&b, "- blacklisted: %s\n", strings.Join(knowledge.Blacklist, ", "))
	fmt.Fprintf(&b, "- favored: %s\n", strings.Join(knowledge.Favored, ", "))
	fmt.Fprintf(&b, "- recent win rate: %.2f%%, recent pnl: %s\n", knowledge.RecentWinRate*100, knowledge.RecentPnL.String())
	for _, p := range knowledge.ActivePatterns {
		fmt.Fprintf(&b, "- active pattern %s: confidence %.2f, used %d times\n", p.PatternID, p.Confidence, p.TimesUsed)
	}
	for _, r := range knowledge.ActiveRules {
		fmt.Fprintf(&b, "- active regime rule %s: action %s, size factor %s\n", r.RuleID, r.Action, r.SizeFactor.String())
	}

	b.WriteString("\nRespond with a JSON array of proposals, each object shaped exactly as:\n")
	b.WriteString(`[{"coin":"BTC","direction":"LONG","entry_price":"...","stop_loss":"...","take_profit":"...","pattern_id":""}]` + "\n")
	b.WriteString("Never propose blacklisted coins. Omit pattern_id when no known pattern applies. Respond with the array only.\n")
	return b.String()
}

func buildReflectPrompt(s ReflectionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the last %s of paper-trading activity and suggest adaptations.\n\n", s.Window)

	b.WriteString("By-coin performance:\n")
	coins := make([]string, 0, len(s.ByCoin))
	for c := range s.ByCoin {
		coins = append(coins, c)
	}
	sort.Strings(coins)
	for _, coin := range coins {
		cs := s.ByCoin[coin]
		fmt.Fprintf(&b, "- %s: status %s, win rate %.2f%%, trades %d\n", coin, cs.Status, cs.WinRate*100, cs.Trades)
	}

	b.WriteString("\nBy-hour win rate:\n")
	for h := 0; h < 24; h++ {
		if wr, ok := s.ByHour[h]; ok {
			fmt.Fprintf(&b, "- hour %02d: %.2f%%\n", h, wr*100)
		}
	}

	b.WriteString("\nBy-pattern win rate:\n")
	patterns := make([]string, 0, len(s.ByPattern))
	for p := range s.ByPattern {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	for _, p := range patterns {
		fmt.Fprintf(&b, "- %s: %.2f%%\n", p, s.ByPattern[p]*100)
	}

	fmt.Fprintf(&b, "\nOverall recent win rate: %.2f%%, pnl: %s\n", s.Knowledge.RecentWinRate*100, s.Knowledge.RecentPnL.String())
	fmt.Fprintf(&b, "Currently blacklisted: %s\n", strings.Join(s.Knowledge.Blacklist, ", "))
	fmt.Fprintf(&b, "Currently favored: %s\n", strings.Join(s.Knowledge.Favored, ", "))

	b.WriteString("\nRespond with a JSON array of insights, each object shaped exactly as:\n")
	b.WriteString(`[{"kind":"BLACKLIST","target":"COIN","evidence":"...","suggested_action":"...","confidence":0.0}]` + "\n")
	b.WriteString("kind is one of BLACKLIST, FAVOR, REDUCE, UNBLACKLIST, DEACTIVATE_PATTERN, CREATE_RULE, ADJUST_PARAMS.\n")
	b.WriteString("Only propose insights you are confident in. Respond with the array only.\n")
	return b.String()
}
