package services

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// DateLayout is the calendar-day format used for every streak and ledger date.
const DateLayout = "2006-01-02"

// EngineOptions carries the knobs shared by every service in the credit path.
// Zero values fall back to defaults (real clock, UTC, base 50 / increment 50, reward 1..10000).
type EngineOptions struct {
	Clock       clockwork.Clock
	Location    *time.Location
	Progression ProgressionConfig
	MinXPReward int64
	MaxXPReward int64
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Progression.BaseXP <= 0 && o.Progression.Increment <= 0 {
		o.Progression = DefaultProgressionConfig
	}
	if o.MinXPReward <= 0 {
		o.MinXPReward = 1
	}
	if o.MaxXPReward <= 0 {
		o.MaxXPReward = 10000
	}
	return o
}

func (o EngineOptions) now() time.Time {
	return o.Clock.Now()
}

// today is the calendar day of now in the engine's zone.
func (o EngineOptions) today() string {
	return o.Clock.Now().In(o.Location).Format(DateLayout)
}

func (o EngineOptions) validateXPReward(xp int64) error {
	if xp < o.MinXPReward || xp > o.MaxXPReward {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidXPReward, xp, o.MinXPReward, o.MaxXPReward)
	}
	return nil
}
