package services

import (
	"fmt"

	"quest-progress-engine/models"
)

// ProgressionConfig: XP needed for the *next* level is BaseXP + level*Increment
type ProgressionConfig struct {
	BaseXP    int64
	Increment int64
}

// DefaultProgressionConfig: level 1 → 2 needs 100, level 2 → 3 needs 150, ...
var DefaultProgressionConfig = ProgressionConfig{BaseXP: 50, Increment: 50}

// XPToNextLevel returns XP required to reach level+1 from level
func (c ProgressionConfig) XPToNextLevel(level int) int64 {
	if level < 1 {
		level = 1
	}
	need := c.BaseXP + int64(level)*c.Increment
	if need < 1 {
		need = 1
	}
	return need
}

// RankChange is emitted whenever the resolved rank differs from the stored one
type RankChange string

const (
	RankChangeNone RankChange = ""
	RankChangeUp   RankChange = "rank_up"
	RankChangeDown RankChange = "rank_down"
)

// CharacterSnapshot is the slice of Character the calculator reads
type CharacterSnapshot struct {
	Level     int
	CurrentXP int64
	TotalXP   int64
	RankID    string
}

func SnapshotOf(c *models.Character) CharacterSnapshot {
	return CharacterSnapshot{Level: c.Level, CurrentXP: c.CurrentXP, TotalXP: c.TotalXP, RankID: c.RankID}
}

type ProgressionResult struct {
	NewLevel         int
	NewCurrentXP     int64
	NewTotalXP       int64
	NewXPToNextLevel int64
	LevelsGained     int // negative when a reversal de-levels
	RankChanged      bool
	RankChange       RankChange
	FromRank         *models.Rank
	ToRank           *models.Rank
	// Degraded: a negative delta hit the zero floor and was clamped.
	Degraded bool
}

type ProgressionCalculator struct {
	Config ProgressionConfig
}

func NewProgressionCalculator(cfg ProgressionConfig) ProgressionCalculator {
	return ProgressionCalculator{Config: cfg}
}

// ApplyXP adds delta to the snapshot and levels up (or down) as many times as needed.
// It has no side effects. The only error is a rank table that does not cover the level.
func (p ProgressionCalculator) ApplyXP(snap CharacterSnapshot, delta int64, ranks []models.Rank) (ProgressionResult, error) {
	level := snap.Level
	if level < 1 {
		level = 1
	}
	current := snap.CurrentXP
	if current < 0 {
		current = 0
	}
	res := ProgressionResult{}

	total := snap.TotalXP + delta
	if total < 0 {
		total = 0
		res.Degraded = true
	}

	current += delta
	for current >= p.Config.XPToNextLevel(level) {
		current -= p.Config.XPToNextLevel(level)
		level++
	}
	for current < 0 && level > 1 {
		level--
		current += p.Config.XPToNextLevel(level)
	}
	if current < 0 {
		current = 0
		res.Degraded = true
	}

	res.NewLevel = level
	res.NewCurrentXP = current
	res.NewTotalXP = total
	res.NewXPToNextLevel = p.Config.XPToNextLevel(level)
	res.LevelsGained = level - max(snap.Level, 1)

	to, err := ResolveRank(level, ranks)
	if err != nil {
		return res, err
	}
	res.ToRank = to
	for i := range ranks {
		if ranks[i].ID == snap.RankID {
			res.FromRank = &ranks[i]
			break
		}
	}
	if res.FromRank == nil || res.FromRank.ID != to.ID {
		res.RankChanged = true
		res.RankChange = RankChangeUp
		if res.FromRank != nil && res.FromRank.OrderIndex > to.OrderIndex {
			res.RankChange = RankChangeDown
		}
	}
	return res, nil
}

// ResolveRank picks the highest-OrderIndex rank whose level range contains level.
func ResolveRank(level int, ranks []models.Rank) (*models.Rank, error) {
	var best *models.Rank
	for i := range ranks {
		if !ranks[i].Contains(level) {
			continue
		}
		if best == nil || ranks[i].OrderIndex > best.OrderIndex {
			best = &ranks[i]
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no rank covers level %d", ErrIntegrity, level)
	}
	return best, nil
}
