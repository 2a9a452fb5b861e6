package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"quest-progress-engine/models"
	"quest-progress-engine/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RankEntry is one competitor in a ranking pass. Score desc, Since asc, ID asc.
type RankEntry struct {
	ID    string
	Score int64
	Since time.Time
	Rank  int
}

// RankEntries returns a sorted copy with dense ranks 1..N. Ties on Score never share a
// rank: earlier Since wins, then the lower ID, so the order is total and repeatable.
func RankEntries(in []RankEntry) []RankEntry {
	out := make([]RankEntry, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Since.Equal(b.Since) {
			return a.Since.Before(b.Since)
		}
		return a.ID < b.ID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// GlobalEntry is one row of the cached global leaderboard
type GlobalEntry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Level    int    `json:"level"`
	TotalXP  int64  `json:"total_xp"`
	RankCode string `json:"rank_code"`
}

const globalLeaderboardKey = "leaderboard:global:v1"

type LeaderboardService struct {
	DB    *gorm.DB
	Cache utils.Cache
	TTL   time.Duration
}

func NewLeaderboardService(db *gorm.DB, cache utils.Cache, ttl time.Duration) *LeaderboardService {
	if cache == nil {
		cache = utils.NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LeaderboardService{DB: db, Cache: cache, TTL: ttl}
}

// RecomputeChallengeRanks rewrites only the rank column. Dropped and disqualified
// participants get rank 0.
func (s *LeaderboardService) RecomputeChallengeRanks(tx *gorm.DB, challengeID string) error {
	var parts []models.ChallengeParticipant
	if err := tx.Where("challenge_id = ?", challengeID).Find(&parts).Error; err != nil {
		return fmt.Errorf("load participants: %w", err)
	}

	entries := make([]RankEntry, 0, len(parts))
	current := make(map[string]int, len(parts))
	for _, p := range parts {
		current[p.ID] = p.Rank
		if p.Status.Ranked() {
			entries = append(entries, RankEntry{ID: p.ID, Score: p.TotalPoints, Since: p.JoinedAt})
		} else if p.Rank != 0 {
			if err := tx.Model(&models.ChallengeParticipant{}).Where("id = ?", p.ID).
				UpdateColumn("rank", 0).Error; err != nil {
				return err
			}
		}
	}

	for _, e := range RankEntries(entries) {
		if current[e.ID] == e.Rank {
			continue
		}
		if err := tx.Model(&models.ChallengeParticipant{}).Where("id = ?", e.ID).
			UpdateColumn("rank", e.Rank).Error; err != nil {
			return err
		}
	}
	return nil
}

// ChallengeLeaderboard lists ranked participants in rank order
func (s *LeaderboardService) ChallengeLeaderboard(challengeID string, limit int) ([]models.ChallengeParticipant, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var parts []models.ChallengeParticipant
	err := s.DB.Where("challenge_id = ? AND rank > 0", challengeID).
		Order("rank ASC").
		Limit(limit).
		Find(&parts).Error
	return parts, err
}

// ChallengeLeaderboardAround returns participants within ±radius ranks of the user
func (s *LeaderboardService) ChallengeLeaderboardAround(challengeID, userID string, radius int) ([]models.ChallengeParticipant, error) {
	if radius < 1 {
		radius = 5
	}
	var me models.ChallengeParticipant
	if err := s.DB.Where("challenge_id = ? AND user_id = ?", challengeID, userID).
		First(&me).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}
	if me.Rank == 0 {
		return nil, ErrParticipantInactive
	}

	lower := me.Rank - radius
	if lower < 1 {
		lower = 1
	}
	upper := me.Rank + radius

	var parts []models.ChallengeParticipant
	err := s.DB.Where("challenge_id = ? AND rank BETWEEN ? AND ?", challengeID, lower, upper).
		Order("rank ASC").
		Find(&parts).Error
	return parts, err
}

// GlobalLeaderboard serves the top characters by TotalXP, from cache when warm.
func (s *LeaderboardService) GlobalLeaderboard(ctx context.Context, limit int) ([]GlobalEntry, error) {
	if limit < 1 || limit > 100 {
		limit = 100
	}

	var cached []GlobalEntry
	if err := s.Cache.Get(ctx, globalLeaderboardKey, &cached); err == nil {
		if len(cached) > limit {
			cached = cached[:limit]
		}
		return cached, nil
	} else if !errors.Is(err, utils.ErrCacheMiss) {
		utils.Logger.Warn("leaderboard cache read failed", zap.Error(err))
	}

	var chars []models.Character
	if err := s.DB.Preload("Rank").
		Order("total_xp DESC").Order("created_at ASC").Order("user_id ASC").
		Limit(100).
		Find(&chars).Error; err != nil {
		return nil, err
	}

	entries := make([]GlobalEntry, 0, len(chars))
	for i, c := range chars {
		e := GlobalEntry{Rank: i + 1, UserID: c.UserID, Level: c.Level, TotalXP: c.TotalXP}
		if c.Rank != nil {
			e.RankCode = c.Rank.Code
		}
		entries = append(entries, e)
	}

	if err := s.Cache.Set(ctx, globalLeaderboardKey, entries, s.TTL); err != nil {
		utils.Logger.Warn("leaderboard cache write failed", zap.Error(err))
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// GlobalRankOf counts characters strictly ahead of the user under the global tie-break.
func (s *LeaderboardService) GlobalRankOf(userID string) (int, error) {
	var me models.Character
	if err := s.DB.Where("user_id = ?", userID).First(&me).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	var ahead int64
	err := s.DB.Model(&models.Character{}).
		Where("total_xp > ?", me.TotalXP).
		Or("total_xp = ? AND created_at < ?", me.TotalXP, me.CreatedAt).
		Or("total_xp = ? AND created_at = ? AND user_id < ?", me.TotalXP, me.CreatedAt, me.UserID).
		Count(&ahead).Error
	if err != nil {
		return 0, err
	}
	return int(ahead) + 1, nil
}

// InvalidateGlobal drops the cached ranking; called after every committed credit.
func (s *LeaderboardService) InvalidateGlobal(ctx context.Context) {
	if err := s.Cache.Delete(ctx, globalLeaderboardKey); err != nil {
		utils.Logger.Warn("leaderboard cache invalidate failed", zap.Error(err))
	}
}
