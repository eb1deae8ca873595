package money

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID returns a new random id, optionally prefixed, matching the
// teacher's own uuid.New().String() convention for entity ids.
func GenerateID(prefix string) string {
	id := uuid.New().String()
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s_%s", prefix, id)
}

// GenerateConditionID returns a new TradeCondition id.
func GenerateConditionID() string { return GenerateID("cond") }

// GeneratePositionID returns a new Position id.
func GeneratePositionID() string { return GenerateID("pos") }

// GenerateTradeID returns a new TradeEvent id.
func GenerateTradeID() string { return GenerateID("trd") }

// GenerateAdaptationID returns a new Adaptation id.
func GenerateAdaptationID() string { return GenerateID("adp") }

// GeneratePatternID returns a new TradingPattern id.
func GeneratePatternID() string { return GenerateID("pat") }

// GenerateRuleID returns a new RegimeRule id.
func GenerateRuleID() string { return GenerateID("rule") }
