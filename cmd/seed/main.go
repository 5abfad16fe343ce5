package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/shinyyama/referral-backend/internal/config"
	"github.com/shinyyama/referral-backend/internal/db"
	"github.com/shinyyama/referral-backend/internal/referral"
	"github.com/shinyyama/referral-backend/internal/server"
	"github.com/shinyyama/referral-backend/internal/service"
)

// chainLength matches the deepest level the tree view can show.
const chainLength = referral.MaxDepth

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

// run builds a single referral chain under the bootstrap root. Users that
// already exist are reused, so the command can be run repeatedly.
func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	comps := server.NewComponents(gdb, nil)
	svc := service.NewReferralService(comps.Users, comps.Stats, comps.Engine,
		service.InlinePropagation{Propagator: comps.Engine.Upline}, cfg.ReferralLinkBase)

	root, err := svc.EnsureRoot(ctx, cfg.BootstrapRootEmail, "superadmin", cfg.BootstrapRootCode)
	if err != nil {
		return fmt.Errorf("bootstrap root: %w", err)
	}

	code := root.ReferralCode
	for i := 1; i <= chainLength; i++ {
		email := fmt.Sprintf("seed%02d@example.com", i)
		sponsorCode := code
		user, err := svc.Join(ctx, service.JoinInput{
			Email:        email,
			Username:     fmt.Sprintf("seed%02d", i),
			ReferralCode: &sponsorCode,
		})
		if errors.Is(err, service.ErrEmailTaken) {
			existing, ferr := comps.Users.FindByEmail(ctx, email)
			if ferr != nil || existing == nil {
				return fmt.Errorf("reuse %s: %v", email, ferr)
			}
			code = existing.ReferralCode
			continue
		}
		if err != nil {
			return fmt.Errorf("join %s: %w", email, err)
		}
		log.Printf("seeded level %d user=%s code=%s", i, user.ID, user.ReferralCode)
		code = user.ReferralCode
	}

	st, err := svc.Stats(ctx, root.ID)
	if err != nil {
		return fmt.Errorf("root stats: %w", err)
	}
	log.Printf("seed completed: root team size=%d direct=%d", st.TotalTeamSize, st.DirectCount)
	return nil
}
