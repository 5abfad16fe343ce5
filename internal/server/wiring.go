package server

import (
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/referral-backend/internal/event"
	"github.com/shinyyama/referral-backend/internal/lock"
	"github.com/shinyyama/referral-backend/internal/metrics"
	"github.com/shinyyama/referral-backend/internal/referral"
	"github.com/shinyyama/referral-backend/internal/repository"
	"gorm.io/gorm"
)

// Components is the storage and engine graph shared by the API server and
// the maintenance commands.
type Components struct {
	Users  repository.UserRepository
	Stats  repository.ReferralStatRepository
	Engine *referral.Engine
}

// NewComponents wires the engine to MySQL. With a Redis client, stats
// recomputation is locked across replicas and every write is published.
func NewComponents(db *gorm.DB, rdb *redis.Client) *Components {
	users := repository.NewUserRepository(db)
	stats := repository.NewReferralStatRepository(db)

	var locker referral.Locker = lock.NewKeyedMutex()
	listener := referral.StatsListener(metrics.StatsListener)
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb)
		listener = metrics.Chain(metrics.StatsListener, event.NewStatsPublisher(rdb).Listener())
	}

	return &Components{
		Users:  users,
		Stats:  stats,
		Engine: referral.NewEngine(users, stats, referral.WithLocker(locker), referral.WithStatsListener(listener)),
	}
}
