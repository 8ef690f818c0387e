package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	_ "github.com/joho/godotenv/autoload"
	_ "modernc.org/sqlite"

	"github.com/lox/vinewater/internal/advisor"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/dynamostore"
	"github.com/lox/vinewater/internal/ingest"
	"github.com/lox/vinewater/internal/irrigation"
	"github.com/lox/vinewater/internal/store"
)

type Globals struct {
	DB          string `help:"Path to SQLite database." default:"data/vinewater.db" env:"VINEWATER_DB"`
	Timezone    string `help:"Zone that defines today's date." default:"America/Los_Angeles" env:"VINEWATER_TZ"`
	Backend     string `help:"Event store backend." enum:"sqlite,dynamodb" default:"sqlite" env:"VINEWATER_EVENT_BACKEND"`
	WindowDays  int    `help:"Water budget lookback in days." default:"14" env:"VINEWATER_WINDOW_DAYS"`
	HorizonDays int    `help:"Days ahead schedules are generated." default:"30" env:"VINEWATER_HORIZON_DAYS"`

	OpenETKey    string `help:"OpenET API key." env:"OPENET_API_KEY"`
	OpenETURL    string `help:"OpenET base URL." env:"OPENET_URL"`
	OpenETModel  string `help:"OpenET model." default:"Ensemble" env:"OPENET_MODEL"`
	CIMISHost    string `help:"CIMIS FTP host:port." env:"CIMIS_HOST"`
	OpenMeteoURL string `help:"Open-Meteo base URL." env:"OPEN_METEO_URL"`

	OpenAIKey   string `help:"OpenAI API key for narratives." env:"OPENAI_API_KEY"`
	OpenAIModel string `help:"OpenAI model." default:"gpt-4o-mini" env:"OPENAI_MODEL"`

	DynamoRegion   string `help:"DynamoDB region." default:"us-east-1" env:"AWS_REGION"`
	DynamoEndpoint string `help:"DynamoDB endpoint for local development." env:"DYNAMODB_ENDPOINT"`
	DynamoTable    string `help:"DynamoDB events table." default:"irrigation_events" env:"DYNAMODB_TABLE"`
	DynamoKeyID    string `help:"Static access key for DynamoDB Local." env:"DYNAMODB_ACCESS_KEY_ID"`
	DynamoSecret   string `help:"Static secret key for DynamoDB Local." env:"DYNAMODB_SECRET_ACCESS_KEY"`
}

type CLI struct {
	Globals `embed:""`

	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the HTTP API and background refresher."`
	Migrate  MigrateCmd  `cmd:"" help:"Apply database migrations and create the DynamoDB table."`
	Sync     SyncCmd     `cmd:"" help:"Reconcile schedule events for one or all blocks."`
	Backfill BackfillCmd `cmd:"" help:"Generate a schedule's missing past events."`
	Report   ReportCmd   `cmd:"" help:"Print a block's water budget and recommendation."`
	Prune    PruneCmd    `cmd:"" help:"Delete archived source payloads past retention."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("vinewater"),
		kong.Description("Vineyard irrigation water budgets and schedules."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}

// app is everything a command needs, opened from Globals.
type app struct {
	db    *sql.DB
	store *store.Store
	svc   *irrigation.Service
}

func (a *app) Close() {
	a.db.Close()
}

func (g *Globals) location() *time.Location {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		log.Printf("warning: could not load %s timezone, using UTC: %v", g.Timezone, err)
		return time.UTC
	}
	return loc
}

func (g *Globals) openStore(ctx context.Context) (*sql.DB, *store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(g.DB), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA foreign_keys=ON")

	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return db, st, nil
}

func (g *Globals) dynamoConfig() dynamostore.Config {
	return dynamostore.Config{
		Region:          g.DynamoRegion,
		Endpoint:        g.DynamoEndpoint,
		Table:           g.DynamoTable,
		AccessKeyID:     g.DynamoKeyID,
		SecretAccessKey: g.DynamoSecret,
	}
}

func (g *Globals) open(ctx context.Context) (*app, error) {
	db, st, err := g.openStore(ctx)
	if err != nil {
		return nil, err
	}
	clock := dates.SystemClock{Loc: g.location()}

	var events irrigation.EventStore = st
	if g.Backend == "dynamodb" {
		client, err := dynamostore.Connect(ctx, g.dynamoConfig())
		if err != nil {
			db.Close()
			return nil, err
		}
		events = dynamostore.NewEventRepository(client, g.DynamoTable)
		log.Printf("events stored in dynamodb table %s", g.DynamoTable)
	}

	weather := ingest.NewOpenMeteoClient(g.OpenMeteoURL, clock)
	sources := []ingest.ETSource{}
	if g.OpenETKey != "" {
		sources = append(sources, ingest.NewOpenETClient(g.OpenETKey, g.OpenETURL))
	} else {
		log.Println("OpenET disabled (no OPENET_API_KEY)")
	}
	sources = append(sources, ingest.NewCIMISClient(g.CIMISHost), weather)

	adv := advisor.New(advisor.Options{
		APIKey: g.OpenAIKey,
		Model:  g.OpenAIModel,
		Cache:  advisor.NewCache(6 * time.Hour),
	})
	if !adv.Enabled() {
		log.Println("narratives use the built-in template (no OPENAI_API_KEY)")
	}

	svc := irrigation.New(irrigation.Config{
		Blocks:      st,
		Schedules:   st,
		Events:      events,
		Cache:       st,
		ET:          ingest.NewChain(sources...),
		Weather:     weather,
		Advisor:     adv,
		Clock:       clock,
		WindowDays:  g.WindowDays,
		HorizonDays: g.HorizonDays,
		OpenETModel: g.OpenETModel,
	})
	return &app{db: db, store: st, svc: svc}, nil
}
