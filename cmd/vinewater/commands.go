package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lox/vinewater/internal/api"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/dynamostore"
	"github.com/lox/vinewater/internal/irrigation"
	"github.com/lox/vinewater/internal/reconcile"
)

type ServeCmd struct {
	Port           string   `help:"HTTP server port." default:"8080" env:"PORT"`
	NoRefresh      bool     `help:"Disable the background refresher (server only, for local dev)."`
	AllowedOrigins []string `help:"CORS origins." env:"VINEWATER_ALLOWED_ORIGINS"`
	RetentionDays  int      `help:"Days raw source payloads are kept." default:"90" env:"VINEWATER_PAYLOAD_RETENTION_DAYS"`
}

func (c *ServeCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !c.NoRefresh {
		go irrigation.NewRefresher(a.svc, a.store, c.RetentionDays).Run(ctx)
	} else {
		log.Println("background refresh disabled (--no-refresh)")
	}

	server := api.NewServer(a.svc, a.store, api.Options{
		Port:           c.Port,
		AllowedOrigins: c.AllowedOrigins,
	})
	return server.Run(ctx)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals, ctx context.Context) error {
	db, st, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := st.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	log.Printf("database migrated to version %d", version)

	if g.Backend != "dynamodb" {
		return nil
	}
	client, err := dynamostore.Connect(ctx, g.dynamoConfig())
	if err != nil {
		return err
	}
	created, err := dynamostore.EnsureTable(ctx, client, g.DynamoTable)
	if err != nil {
		return err
	}
	if created {
		log.Printf("created dynamodb table %s", g.DynamoTable)
	} else {
		log.Printf("dynamodb table %s already exists", g.DynamoTable)
	}
	return nil
}

type SyncCmd struct {
	Block string `help:"Only sync this block."`
}

func (c *SyncCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var res reconcile.Result
	if c.Block != "" {
		res, err = a.svc.SyncBlock(ctx, c.Block)
	} else {
		res, err = a.svc.SyncAll(ctx)
	}
	if err != nil {
		return err
	}
	printResult(res)
	return res.Err()
}

type BackfillCmd struct {
	Schedule string `arg:"" help:"Schedule ID."`
}

func (c *BackfillCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.BackfillSchedule(ctx, c.Schedule)
	if err != nil {
		return err
	}
	printResult(res)
	return res.Err()
}

type ReportCmd struct {
	Block string `arg:"" help:"Block ID."`
}

func (c *ReportCmd) Run(g *Globals, ctx context.Context) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ov, err := a.svc.Overview(ctx, c.Block)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Block\t%s (%.1f acres)\n", ov.Block.Name, ov.Block.Acres)
	fmt.Fprintf(w, "Stage\t%s, Kc %.2f\n", ov.Stage.Label, ov.Stage.Kc)
	if ov.Unavailable != "" {
		fmt.Fprintf(w, "Budget\tunavailable: %s\n", ov.Unavailable)
	}
	if b := ov.Budget; b != nil {
		fmt.Fprintf(w, "Window\t%s (%d ET days, source %s)\n", b.Range, b.ETDays, b.ETSource)
		fmt.Fprintf(w, "Crop ET\t%.2f in\n", b.ETcInches)
		fmt.Fprintf(w, "Applied\t%.2f in from %d events\n", b.AppliedInches, b.EventsCount)
		fmt.Fprintf(w, "Rain\t%.2f in\n", b.RainfallInches)
		fmt.Fprintf(w, "Deficit\t%.2f in (%.0f%% met)\n", b.DeficitInches, b.PercentageMet)
		if b.CoverageWarning {
			fmt.Fprintf(w, "Warning\tirrigation history may not cover the window\n")
		}
	}
	if s := ov.Soil; s != nil {
		fmt.Fprintf(w, "Soil\tsurface %.0f%% / mid %.0f%% / deep %.0f%%\n",
			s.Surface.MoisturePercent, s.Mid.MoisturePercent, s.Deep.MoisturePercent)
	}
	if r := ov.Recommendation; r != nil {
		fmt.Fprintf(w, "Urgency\t%s\n", r.Urgency)
		if r.NeedsIrrigation {
			fmt.Fprintf(w, "Apply\t%.2f in, %.0f gal, run %s\n", r.Inches, r.Gallons, r.Runtime())
		}
	}
	fmt.Fprintf(w, "\n%s\n", ov.Narrative)
	return w.Flush()
}

type PruneCmd struct {
	Days int `help:"Retention in days." default:"90"`
}

func (c *PruneCmd) Run(g *Globals, ctx context.Context) error {
	db, st, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := st.CleanupOldRawPayloads(ctx, c.Days)
	if err != nil {
		return err
	}
	log.Printf("pruned %d raw payloads older than %d days (before %s)", n, c.Days,
		dates.Format(dates.AddDays(time.Now().UTC(), -c.Days)))
	return nil
}

func printResult(res reconcile.Result) {
	log.Printf("%s: inserted=%d deleted=%d skipped=%d failed=%d",
		res.Operation, res.Inserted, res.Deleted, res.Skipped, res.Failed)
	for _, err := range res.Errors {
		log.Printf("  %v", err)
	}
}
