package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/referral-backend/internal/referral"
	"github.com/shinyyama/referral-backend/internal/reqctx"
)

func TestNewStatsUpdated(t *testing.T) {
	ctx := reqctx.WithJobID(context.Background(), "job-1")
	ev := NewStatsUpdated(ctx, referral.Stats{
		UserID:         "u1",
		DirectCount:    2,
		TotalTeamSize:  3,
		LevelBreakdown: map[int]int{1: 2, 2: 1},
	})
	if ev.UserID != "u1" || ev.DirectCount != 2 || ev.TotalTeamSize != 3 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.LevelBreakdown["1"] != 2 || ev.LevelBreakdown["2"] != 1 || len(ev.LevelBreakdown) != 2 {
		t.Fatalf("breakdown=%v", ev.LevelBreakdown)
	}
	if ev.JobID != "job-1" {
		t.Fatalf("job id=%q", ev.JobID)
	}

	ev = NewStatsUpdated(context.Background(), referral.Stats{UserID: "u2"})
	if ev.JobID != "" {
		t.Fatalf("job id should be empty outside a job, got %q", ev.JobID)
	}
}

func TestPublishDeliversJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub := rdb.Subscribe(ctx, StatsChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p := NewStatsPublisher(rdb)
	jobCtx := reqctx.WithJobID(ctx, "job-1")
	p.Listener()(jobCtx, referral.Stats{UserID: "A", DirectCount: 1, TotalTeamSize: 3, LevelBreakdown: map[int]int{1: 1, 2: 2}})

	select {
	case msg := <-sub.Channel():
		if msg.Channel != StatsChannel {
			t.Fatalf("channel=%s", msg.Channel)
		}
		var ev StatsUpdated
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.UserID != "A" || ev.TotalTeamSize != 3 || ev.LevelBreakdown["2"] != 2 || ev.JobID != "job-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("no message received")
	}
}
