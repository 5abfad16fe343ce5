package model

import "time"

// ReferralStat caches a user's downline summary. LevelBreakdown keys are level
// numbers rendered as strings.
type ReferralStat struct {
	UserID         string         `gorm:"column:user_id;primaryKey;size:128"`
	DirectCount    int            `gorm:"column:direct_count;not null;default:0"`
	TotalTeamSize  int            `gorm:"column:total_team_size;not null;default:0"`
	LevelBreakdown map[string]int `gorm:"column:level_breakdown;type:json;serializer:json"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
}

func (ReferralStat) TableName() string {
	return "referral_stats"
}
