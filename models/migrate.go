package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table the engine owns. Ranks first: characters reference them.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Rank{},
		&Character{},
		&Task{},
		&Habit{},
		&TaskCompletion{},
		&HabitCompletion{},
		&GroupChallenge{},
		&ChallengeTask{},
		&ChallengeParticipant{},
		&ChallengeProgress{},
		&ChallengeTaskCompletion{},
		&ActivityLog{},
		&NotificationIntent{},
		&BadgeType{},
		&UserBadge{},
	)
}
