package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shinyyama/referral-backend/internal/config"
	"github.com/shinyyama/referral-backend/internal/db"
	"github.com/shinyyama/referral-backend/internal/server"
	"github.com/shinyyama/referral-backend/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("recompute failed: %v", err)
	}
}

// run rewrites every stored stats record from the current forest. Use it
// after propagation jobs were dropped or gave up.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	rdb, err := db.ConnectRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	comps := server.NewComponents(gdb, rdb)
	svc := service.NewReferralService(comps.Users, comps.Stats, comps.Engine,
		service.InlinePropagation{Propagator: comps.Engine.Upline}, cfg.ReferralLinkBase)

	report, err := svc.RecomputeAll(ctx)
	log.Printf("recomputed=%d failed=%d", report.Recomputed, report.Failed)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d users could not be recomputed", report.Failed)
	}
	return nil
}
