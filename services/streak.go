package services

import (
	"fmt"
	"slices"
	"time"

	"quest-progress-engine/models"
)

// StreakMilestones emit a streak_milestone event when reached
var StreakMilestones = []int{3, 7, 14, 30, 60, 100, 180, 365}

// StreakState is what the tracker reads and writes. LastDate is the last day that counted.
type StreakState struct {
	StreakDays    int
	LongestStreak int
	LastDate      *string
}

type StreakResult struct {
	State StreakState
	// Counted is false when the day had already been counted (or predates LastDate).
	Counted bool
	// Broken is set only when a streak > 0 was actually lost; BrokenLength is its length.
	Broken       bool
	BrokenLength int
	Milestone    int // 0 = none
}

// StreakTracker is a pure day-granular state machine. Dates are "2006-01-02" calendar days,
// so time-of-day and DST never shift the result.
type StreakTracker struct{}

// Advance records activity on day.
func (StreakTracker) Advance(prev StreakState, day string) (StreakResult, error) {
	d, err := parseDay(day)
	if err != nil {
		return StreakResult{}, err
	}
	res := StreakResult{State: prev}

	if prev.LastDate == nil || *prev.LastDate == "" {
		res.State.StreakDays = 1
	} else {
		last, err := parseDay(*prev.LastDate)
		if err != nil {
			return StreakResult{}, err
		}
		switch gap := daysBetween(last, d); {
		case gap <= 0:
			// same day (or a late entry for an earlier day): already counted
			return res, nil
		case gap == 1:
			res.State.StreakDays = prev.StreakDays + 1
		default:
			if prev.StreakDays > 0 {
				res.Broken = true
				res.BrokenLength = prev.StreakDays
			}
			res.State.StreakDays = 1
		}
	}

	res.Counted = true
	res.State.LastDate = &day
	res.State.LongestStreak = max(prev.LongestStreak, res.State.StreakDays)
	if slices.Contains(StreakMilestones, res.State.StreakDays) {
		res.Milestone = res.State.StreakDays
	}
	return res, nil
}

// Expire breaks a streak whose last counted day is before yesterday. Used by the daily sweep;
// LastDate is kept so a later completion still sees the gap.
func (StreakTracker) Expire(prev StreakState, today string) (StreakResult, error) {
	res := StreakResult{State: prev}
	if prev.StreakDays == 0 || prev.LastDate == nil {
		return res, nil
	}
	t, err := parseDay(today)
	if err != nil {
		return StreakResult{}, err
	}
	last, err := parseDay(*prev.LastDate)
	if err != nil {
		return StreakResult{}, err
	}
	if daysBetween(last, t) <= 1 {
		return res, nil
	}
	res.Broken = true
	res.BrokenLength = prev.StreakDays
	res.State.StreakDays = 0
	return res, nil
}

func characterStreak(c *models.Character) StreakState {
	return StreakState{StreakDays: c.StreakDays, LongestStreak: c.LongestStreak, LastDate: c.LastStreakDate}
}

func snapshotCharacterStreak(c *models.Character) models.StreakSnapshot {
	return models.StreakSnapshot{
		StreakDays:     c.StreakDays,
		LongestStreak:  c.LongestStreak,
		LastActiveDate: copyStr(c.LastActiveDate),
		LastStreakDate: copyStr(c.LastStreakDate),
	}
}

func restoreCharacterStreak(c *models.Character, s models.StreakSnapshot) {
	c.StreakDays = s.StreakDays
	c.LongestStreak = s.LongestStreak
	c.LastActiveDate = copyStr(s.LastActiveDate)
	c.LastStreakDate = copyStr(s.LastStreakDate)
}

func sameSnapshot(a, b models.StreakSnapshot) bool {
	return a.StreakDays == b.StreakDays &&
		a.LongestStreak == b.LongestStreak &&
		eqStr(a.LastActiveDate, b.LastActiveDate) &&
		eqStr(a.LastStreakDate, b.LastStreakDate)
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// daysBetween counts calendar days from a to b; both are UTC midnights from parseDay.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// laterDay returns the later of two "2006-01-02" strings (lexical order matches date order).
func laterDay(a *string, b string) *string {
	if a != nil && *a >= b {
		return copyStr(a)
	}
	return &b
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
