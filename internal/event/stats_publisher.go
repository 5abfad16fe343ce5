package event

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shinyyama/referral-backend/internal/referral"
	"github.com/shinyyama/referral-backend/internal/reqctx"
)

const StatsChannel = "referral:stats"

// StatsUpdated is published whenever a user's stats record is rewritten.
type StatsUpdated struct {
	UserID         string         `json:"userId"`
	DirectCount    int            `json:"directCount"`
	TotalTeamSize  int            `json:"totalTeamSize"`
	LevelBreakdown map[string]int `json:"levelBreakdown"`
	JobID          string         `json:"jobId,omitempty"`
	At             time.Time      `json:"at"`
}

type StatsPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewStatsPublisher(rdb *redis.Client) *StatsPublisher {
	return &StatsPublisher{rdb: rdb, channel: StatsChannel}
}

func NewStatsUpdated(ctx context.Context, s referral.Stats) StatsUpdated {
	breakdown := make(map[string]int, len(s.LevelBreakdown))
	for lvl, n := range s.LevelBreakdown {
		breakdown[strconv.Itoa(lvl)] = n
	}
	ev := StatsUpdated{
		UserID:         s.UserID,
		DirectCount:    s.DirectCount,
		TotalTeamSize:  s.TotalTeamSize,
		LevelBreakdown: breakdown,
		At:             time.Now().UTC(),
	}
	if id := reqctx.JobID(ctx); id != "-" {
		ev.JobID = id
	}
	return ev
}

func (p *StatsPublisher) Publish(ctx context.Context, s referral.Stats) error {
	payload, err := json.Marshal(NewStatsUpdated(ctx, s))
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, payload).Err()
}

// Listener adapts the publisher to the stats write hook. Publish failures are
// logged and never fail the recompute.
func (p *StatsPublisher) Listener() referral.StatsListener {
	return func(ctx context.Context, s referral.Stats) {
		if err := p.Publish(ctx, s); err != nil {
			log.Printf("[event] publish stats for %s failed: %v", s.UserID, err)
		}
	}
}
