// Command seed fills a development database with generated applications and
// security history.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/catalog"
	"github.com/Grisenxx/divisionwebsite/internal/config"
	"github.com/Grisenxx/divisionwebsite/internal/database"
	"github.com/Grisenxx/divisionwebsite/internal/seed"

	"github.com/joho/godotenv"
)

func main() {
	numApps := flag.Int("applications", 60, "Number of applications to create")
	numViolations := flag.Int("violations", 20, "Number of security violations to record")
	maxAge := flag.Duration("max-age", 30*24*time.Hour, "Spread creation times over this window")
	shouldClean := flag.Bool("clean", false, "Delete applications, violations and blocks first")
	seedValue := flag.Int64("seed", 0, "Random seed, 0 for a random run")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	s := seed.NewSeeder(db, cat, *seedValue)
	if err := s.Run(ctx, seed.Options{
		Applications: *numApps,
		Violations:   *numViolations,
		Clean:        *shouldClean,
		MaxAge:       *maxAge,
	}); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Seeded %d applications and %d violations", *numApps, *numViolations)
}
