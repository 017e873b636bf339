// Command initdb creates the database, applies the schema and publishes a catalog.
//
//	go run ./cmd/initdb [-catalog path/to/catalog.json] [-s3]
//
// Without -catalog the embedded default catalog is published. With -s3 the
// catalog is also written to CATALOG_BUCKET under CATALOG_KEY.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fiscal-eligibility-engine/internal/config"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/database"
	s3service "fiscal-eligibility-engine/internal/services/s3"
	"fiscal-eligibility-engine/internal/utils"
)

func main() {
	catalogPath := flag.String("catalog", "", "catalog JSON file to publish (default: embedded catalog)")
	toS3 := flag.Bool("s3", false, "also publish the catalog to CATALOG_BUCKET")
	flag.Parse()

	fmt.Println("=== Database Initialization ===")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fail("Invalid configuration", err)
	}
	_ = utils.InitLogger("warn")
	defer utils.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	databaseURL := cfg.DatabaseURL()
	if err := ensureDatabase(ctx, databaseURL); err != nil {
		fail("Failed to create database", err)
	}

	fmt.Println("📡 Connecting to database...")
	db, err := database.NewFromURL(databaseURL)
	if err != nil {
		fail("Failed to connect to database", err)
	}
	defer db.Close()

	fmt.Println("🚀 Applying schema...")
	if err := db.ApplySchema(ctx); err != nil {
		fail("Failed to apply schema", err)
	}
	fmt.Println("✅ Schema applied")

	doc, err := loadDocument(*catalogPath)
	if err != nil {
		fail("Failed to read catalog", err)
	}

	fmt.Printf("📦 Publishing catalog %s...\n", doc.Version)
	repo := database.NewCatalogRepository(db)
	if err := repo.Publish(ctx, doc); err != nil {
		fail("Failed to publish catalog", err)
	}

	snap, err := repo.Load(ctx)
	if err != nil {
		fail("Failed to reload catalog", err)
	}
	fmt.Printf("   Version:   %s\n", snap.Version())
	fmt.Printf("   Questions: %d\n", len(snap.Questions()))
	fmt.Printf("   Products:  %d\n", len(snap.Products()))
	for _, p := range snap.Products() {
		fmt.Printf("     - %s (%d rules)\n", p.ID, len(snap.RulesFor(p.ID)))
	}

	if *toS3 {
		if cfg.CatalogBucket == "" {
			fail("Cannot publish to S3", fmt.Errorf("CATALOG_BUCKET is not set"))
		}
		bucket, err := s3service.NewService(ctx, cfg.AWSRegion, cfg.CatalogBucket)
		if err != nil {
			fail("Failed to create S3 client", err)
		}
		if err := bucket.PublishCatalog(ctx, cfg.CatalogKey, doc); err != nil {
			fail("Failed to publish catalog to S3", err)
		}
		fmt.Printf("☁️  Catalog written to s3://%s/%s\n", cfg.CatalogBucket, cfg.CatalogKey)
	}

	fmt.Println()
	fmt.Println("🎉 Initialization completed successfully!")
}

// ensureDatabase creates the target database through the server's postgres database.
func ensureDatabase(ctx context.Context, databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return err
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" || name == "postgres" {
		return nil
	}

	admin := *u
	admin.Path = "/postgres"
	fmt.Println("📡 Connecting to PostgreSQL server...")
	conn, err := pgx.Connect(ctx, admin.String())
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		fmt.Printf("✅ Database '%s' already exists\n", name)
		return nil
	}

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return err
	}
	fmt.Printf("✅ Database '%s' created\n", name)
	return nil
}

func loadDocument(path string) (*catalog.Document, error) {
	if path == "" {
		return catalog.DefaultDocument()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return catalog.DecodeDocument(f)
}

func fail(msg string, err error) {
	fmt.Printf("❌ %s: %v\n", msg, err)
	os.Exit(1)
}
