package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"github.com/shinyyama/referral-backend/internal/config"
	"github.com/shinyyama/referral-backend/internal/db"
	"github.com/shinyyama/referral-backend/internal/export"
	"github.com/shinyyama/referral-backend/internal/referral"
	"github.com/shinyyama/referral-backend/internal/server"
)

func main() {
	depth := flag.Int("depth", referral.MaxDepth, "levels below each root to include")
	local := flag.Bool("stdout", false, "print the snapshot instead of uploading it")
	flag.Parse()

	if err := run(*depth, *local); err != nil {
		log.Fatalf("export failed: %v", err)
	}
}

func run(depth int, local bool) error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !local && cfg.ExportBucket == "" {
		return fmt.Errorf("EXPORT_BUCKET is not set")
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}

	comps := server.NewComponents(gdb, nil)
	entries, err := comps.Engine.Tree.Build(ctx, nil, depth)
	if err != nil {
		return fmt.Errorf("build forest: %w", err)
	}
	now := time.Now()
	snap := export.NewSnapshot(entries, depth, now)

	if local {
		return snap.Write(os.Stdout)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer client.Close()

	link, err := export.Upload(ctx, client, cfg.ExportBucket, export.ObjectPath(now), snap)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	log.Printf("exported %d nodes (%d roots) to %s", len(snap.Nodes), snap.Roots, link)
	return nil
}
