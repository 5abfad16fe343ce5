package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shinyyama/referral-backend/internal/config"
	"github.com/shinyyama/referral-backend/internal/db"
	appmw "github.com/shinyyama/referral-backend/internal/middleware"
	"github.com/shinyyama/referral-backend/internal/server"
)

var (
	gitSHA    = "dev"
	buildTime = ""
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	conn, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}
	rdb, err := db.ConnectRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("redis connect error: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Printf("REDIS_ADDR not set; using in-process stats locks")
	}

	var auth appmw.Authenticator = appmw.HeaderAuth{}
	if cfg.FirebaseProjectID != "" {
		fb, err := appmw.NewAuthMiddleware(ctx, cfg.FirebaseProjectID)
		if err != nil {
			log.Fatalf("failed to init firebase auth: %v", err)
		}
		auth = fb
	} else {
		log.Printf("FIREBASE_PROJECT_ID not set; trusting %s headers", appmw.HeaderUserID)
	}

	srv := server.New(cfg, conn, rdb, auth, gitSHA, buildTime)
	if _, err := srv.Service().EnsureRoot(ctx, cfg.BootstrapRootEmail, "superadmin", cfg.BootstrapRootCode); err != nil {
		log.Fatalf("bootstrap root: %v", err)
	}

	addr := ":" + cfg.Port
	log.Printf("starting server on %s", addr)
	if err := srv.Start(ctx, addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
