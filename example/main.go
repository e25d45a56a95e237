// Package main demonstrates how to use the censor library.
//
// This example shows:
// 1. Initializing the client with a primary and a secondary analyzer
// 2. Moderating an image under a usage context
// 3. Granting a profile override
// 4. Pushing and pulling the analyzer configuration
package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/client"
	"github.com/phoenix4ge/censor/hooks"
	"github.com/phoenix4ge/censor/providers"
	"github.com/phoenix4ge/censor/providers/aliyun"
	"github.com/phoenix4ge/censor/providers/nudenet"
	sqlstore "github.com/phoenix4ge/censor/store/sql"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

func main() {
	ctx := context.Background()

	// ============================================================
	// Step 1: Initialize Database Store
	// ============================================================
	db, err := sql.Open("mysql", "user:password@tcp(localhost:3306)/censor?parseTime=true")
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	store := sqlstore.NewWithDB(db, sqlstore.DialectMySQL)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	// ============================================================
	// Step 2: Initialize Analyzers
	// ============================================================
	nudenetCfg := nudenet.DefaultConfig()
	nudenetCfg.BaseURL = "http://localhost:8000"
	detector, err := nudenet.New(nudenetCfg)
	if err != nil {
		log.Fatalf("Failed to create nudenet client: %v", err)
	}

	aliyunCfg := aliyun.DefaultConfig()
	aliyunCfg.AccessKeyID = "your-aliyun-access-key"
	aliyunCfg.AccessKeySecret = "your-aliyun-secret"
	aliyunProvider, err := aliyun.New(aliyunCfg)
	if err != nil {
		log.Fatalf("Failed to create aliyun provider: %v", err)
	}

	// ============================================================
	// Step 3: Implement Business Hooks
	// ============================================================
	myHooks := hooks.FuncHooks{
		OnModeratedFunc: func(ctx context.Context, e hooks.ModeratedEvent) error {
			log.Printf("[Hook] %s moderated by %s: %s (risk %.1f)",
				e.RequestID, e.Provider, e.Assessment.Status, e.Assessment.RiskScore)
			return nil
		},
		OnDriftDetectedFunc: func(ctx context.Context, e hooks.DriftDetectedEvent) error {
			log.Printf("[Hook] Drift on %s/%s found by %s", e.Target, e.Context, e.Source)
			for _, r := range e.Reports {
				log.Printf("  - %s", r)
			}
			return nil
		},
		OnProfileOverrideFunc: func(ctx context.Context, e hooks.ProfileOverrideEvent) error {
			log.Printf("[Hook] Override %s in effect for %s, granted by %s",
				e.Override.Category, e.Context, e.Override.Actor)
			return nil
		},
	}

	// ============================================================
	// Step 4: Create Censor Client
	// ============================================================
	opts := client.DefaultOptions()
	opts.Store = store
	opts.Hooks = myHooks
	opts.Analyzers = []providers.Analyzer{
		providers.WrapWithResilience(detector),
		providers.WrapWithResilience(aliyunProvider),
	}
	opts.Pipeline.Primary = detector.Name()
	opts.Pipeline.Secondary = aliyunProvider.Name()
	opts.Remote = detector
	opts.Target = detector.Name()

	censorClient, err := client.New(opts)
	if err != nil {
		log.Fatalf("Failed to create censor client: %v", err)
	}

	// ============================================================
	// Example 1: Moderate an Upload
	// ============================================================
	log.Println("\n=== Example 1: Moderate an Upload ===")

	image, err := os.ReadFile("photo.jpg")
	if err != nil {
		log.Printf("No local image, moderating by URL instead")
	}
	res, err := censorClient.Moderate(ctx, client.ModerateInput{
		Context:  censor.ContextPublicSite,
		Image:    image,
		Filename: "photo.jpg",
		ImageURL: "https://example.com/photo.jpg",
	})
	if err != nil {
		log.Printf("Failed to moderate: %v", err)
	} else {
		log.Printf("Request %s: %s by %v", res.RequestID, res.Assessment.Status, res.Providers)
		for _, reason := range res.Assessment.Reasons {
			log.Printf("  - %s", reason)
		}
	}

	// ============================================================
	// Example 2: Grant a Profile Override
	// ============================================================
	log.Println("\n=== Example 2: Grant a Profile Override ===")

	rec, err := censorClient.GrantOverride(ctx, censor.ContextPaysite,
		censor.CategoryBreast, "admin@example.com", "promotional campaign")
	if err != nil {
		log.Printf("Failed to grant override: %v", err)
	} else {
		log.Printf("Paysite model now at version %d", rec.Version)
	}

	// ============================================================
	// Example 3: Synchronize the Analyzer
	// ============================================================
	log.Println("\n=== Example 3: Synchronize the Analyzer ===")

	out, err := censorClient.Push(ctx, censor.ContextPaysite)
	if err != nil {
		log.Printf("Push failed: %v", err)
	} else {
		log.Printf("Push %s applied in %s", out.ID, out.Duration())
	}

	result, err := censorClient.Reconcile(ctx, censor.ContextStore)
	if err != nil {
		log.Printf("Reconcile failed: %v", err)
	} else if drift := result.Drift(); len(drift) > 0 {
		log.Printf("Store drift repaired: %d field(s)", len(drift))
	}

	log.Println("\n=== Examples Complete ===")
}
