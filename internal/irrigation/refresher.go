package irrigation

import (
	"context"
	"log"
	"time"

	"github.com/lox/vinewater/internal/dates"
)

// PayloadPruner deletes archived source payloads past their retention.
type PayloadPruner interface {
	CleanupOldRawPayloads(ctx context.Context, retentionDays int) (int64, error)
}

// Refresher keeps every block's events extended and its ET cache warm in the
// background, so view loads rarely have to fetch.
type Refresher struct {
	svc           *Service
	pruner        PayloadPruner
	syncInterval  time.Duration
	etInterval    time.Duration
	pruneInterval time.Duration
	retentionDays int
}

func NewRefresher(svc *Service, pruner PayloadPruner, retentionDays int) *Refresher {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Refresher{
		svc:           svc,
		pruner:        pruner,
		syncInterval:  6 * time.Hour,
		etInterval:    12 * time.Hour,
		pruneInterval: 24 * time.Hour,
		retentionDays: retentionDays,
	}
}

func (r *Refresher) Run(ctx context.Context) {
	r.sync(ctx)
	r.warmET(ctx)

	syncTicker := time.NewTicker(r.syncInterval)
	etTicker := time.NewTicker(r.etInterval)
	pruneTicker := time.NewTicker(r.pruneInterval)
	defer syncTicker.Stop()
	defer etTicker.Stop()
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("refresher: shutting down")
			return
		case <-syncTicker.C:
			r.sync(ctx)
		case <-etTicker.C:
			r.warmET(ctx)
		case <-pruneTicker.C:
			r.prune(ctx)
		}
	}
}

func (r *Refresher) sync(ctx context.Context) {
	res, err := r.svc.SyncAll(ctx)
	if err != nil {
		log.Printf("refresher: sync: %v", err)
		return
	}
	log.Printf("refresher: sync inserted=%d deleted=%d failed=%d", res.Inserted, res.Deleted, res.Failed)
}

func (r *Refresher) warmET(ctx context.Context) {
	n, err := r.svc.WarmET(ctx)
	if err != nil {
		log.Printf("refresher: warm et: %v", err)
		return
	}
	log.Printf("refresher: warmed et for %d blocks", n)
}

func (r *Refresher) prune(ctx context.Context) {
	if r.pruner == nil {
		return
	}
	n, err := r.pruner.CleanupOldRawPayloads(ctx, r.retentionDays)
	if err != nil {
		log.Printf("refresher: prune payloads: %v", err)
		return
	}
	if n > 0 {
		log.Printf("refresher: pruned %d raw payloads older than %d days", n, r.retentionDays)
	}
}

// WarmET loads the budget window's ET for every block with coordinates,
// fetching whatever the cache lacks. It returns how many blocks succeeded.
func (s *Service) WarmET(ctx context.Context) (int, error) {
	blocks, err := s.blocks.ListBlocks(ctx)
	if err != nil {
		return 0, err
	}
	rng := dates.Lookback(s.clock.Today(), s.windowDays)
	warmed := 0
	for _, b := range blocks {
		if !b.HasCoordinates() {
			continue
		}
		if _, err := s.CropET(ctx, b, rng); err != nil {
			log.Printf("irrigation: warm et for %s: %v", b.ID, err)
			continue
		}
		warmed++
	}
	return warmed, nil
}
