package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/shinyyama/referral-backend/internal/model"
	"github.com/shinyyama/referral-backend/internal/referral"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReferralStatRepository interface {
	referral.StatsStore
}

type referralStatRepository struct {
	db *gorm.DB
}

func NewReferralStatRepository(db *gorm.DB) ReferralStatRepository {
	return &referralStatRepository{db: db}
}

func (r *referralStatRepository) Get(ctx context.Context, userID string) (*referral.Stats, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var st model.ReferralStat
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&st).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s := FromStatModel(&st)
	return &s, nil
}

// Upsert writes the whole record in one statement so readers never see a
// partially updated row.
func (r *referralStatRepository) Upsert(ctx context.Context, stats referral.Stats) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	row := ToStatModel(stats)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"direct_count", "total_team_size", "level_breakdown", "updated_at"}),
	}).Create(&row).Error
}

func ToStatModel(s referral.Stats) model.ReferralStat {
	breakdown := make(map[string]int, len(s.LevelBreakdown))
	for lvl, n := range s.LevelBreakdown {
		if n > 0 {
			breakdown[strconv.Itoa(lvl)] = n
		}
	}
	return model.ReferralStat{
		UserID:         s.UserID,
		DirectCount:    s.DirectCount,
		TotalTeamSize:  s.TotalTeamSize,
		LevelBreakdown: breakdown,
	}
}

// FromStatModel converts a stored row, skipping breakdown keys that are not
// positive level numbers.
func FromStatModel(st *model.ReferralStat) referral.Stats {
	breakdown := make(map[int]int, len(st.LevelBreakdown))
	for key, n := range st.LevelBreakdown {
		lvl, err := strconv.Atoi(key)
		if err != nil || lvl < 1 || n <= 0 {
			continue
		}
		breakdown[lvl] = n
	}
	return referral.Stats{
		UserID:         st.UserID,
		DirectCount:    st.DirectCount,
		TotalTeamSize:  st.TotalTeamSize,
		LevelBreakdown: breakdown,
	}
}
