// Command seed creates a demo product and license for local development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/audit"
	"github.com/technosupport/license-server/internal/config"
	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/keygen"
	"github.com/technosupport/license-server/internal/licensing"
	"github.com/technosupport/license-server/internal/tokens"
)

func main() {
	slug := flag.String("product", "demo-plugin", "product slug")
	name := flag.String("name", "Demo Plugin", "product name")
	version := flag.String("version", "1.0.0", "current product version")
	email := flag.String("email", "dev@example.com", "license owner")
	plan := flag.String("plan", "pro", "license plan")
	maxActivations := flag.Int("max", 3, "max production activations")
	days := flag.Int("days", 0, "license lifetime in days (0 = perpetual)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if cfg.Production() {
		logrus.Fatal("refusing to seed a production database")
	}
	log := config.NewLogger(cfg.Log).WithField("service", "seed")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := data.Open(ctx, cfg.Database.DSN(), 2, 1, 0)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer db.Close()

	gen, err := keygen.New(cfg.Keys.Prefix)
	if err != nil {
		log.WithError(err).Fatal("invalid key prefix")
	}
	engine := licensing.New(data.NewStore(db), tokens.NewManager(cfg.JWT.SigningKey),
		audit.NewService(db, nil, log.WithField("component", "audit")),
		licensing.WithKeyGenerator(gen),
		licensing.WithLogger(log),
	)

	// 1. Product (reused if it already exists)
	prod, err := engine.CreateProduct(ctx, licensing.CreateProductParams{
		Slug:           *slug,
		Name:           *name,
		CurrentVersion: *version,
		DownloadURL:    "https://downloads.example.com/" + *slug + ".zip",
	})
	if errors.Is(err, licensing.ErrConflict) {
		prod, err = engine.GetProduct(ctx, *slug)
	}
	if err != nil {
		log.WithError(err).Fatal("seed product")
	}

	// 2. License
	p := licensing.CreateLicenseParams{
		Email:          *email,
		Plan:           *plan,
		MaxActivations: *maxActivations,
		ProductID:      &prod.ID,
		Metadata:       licensing.Metadata{Source: "seed"},
	}
	if *days > 0 {
		at := time.Now().UTC().AddDate(0, 0, *days)
		p.ExpiresAt = &at
	}
	l, err := engine.CreateLicense(ctx, p)
	if err != nil {
		log.WithError(err).Fatal("seed license")
	}

	fmt.Printf("product: %s (%s)\n", prod.Slug, prod.ID)
	fmt.Printf("license: %s (%s, %d activations)\n", l.LicenseKey, l.Plan, l.MaxActivations)
}
