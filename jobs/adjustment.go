/*
adjustment.go - Index adjustment scheduler

PURPOSE:
  Periodically prices entries that were created PENDING_ADJUSTMENT once
  the inflation index value they wait on is published.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Lists PENDING_ADJUSTMENT entries, asks the IndexSource for the
    value of (index name, period) and applies it through the engine
  - Missing values are skipped and retried on the next tick
  - An entry that moved on concurrently (paid, voided) is a state
    conflict and is skipped, not retried

USAGE:
  sched := jobs.NewAdjustmentScheduler(engine, jobs.NewStaticIndex(values), time.Hour, log)
  sched.Start()
  defer sched.Stop()

SEE ALSO:
  - ledger/adjustment.go: ApplyIndexAdjustment
  - contract/contract.go: Creates the index-linked entries
*/
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/ledger"
)

// IndexSource publishes index values, e.g. ("ICL", "2025-04") -> 1.0731.
type IndexSource interface {
	Value(ctx context.Context, index, period string) (decimal.Decimal, bool, error)
}

// Adjuster is the part of the engine the scheduler drives.
type Adjuster interface {
	ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error)
	ApplyIndexAdjustment(ctx context.Context, in ledger.AdjustmentInput) (*ledger.Entry, error)
}

// ResultRecorder counts per-entry outcomes; observability.Metrics implements it.
type ResultRecorder interface {
	AdjustmentResult(result string)
}

type nopResults struct{}

func (nopResults) AdjustmentResult(string) {}

// RunSummary reports what one pass did.
type RunSummary struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// AdjustmentScheduler applies published index values on a timer.
type AdjustmentScheduler struct {
	Engine   Adjuster
	Index    IndexSource
	Interval time.Duration
	Actor    string
	Results  ResultRecorder

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewAdjustmentScheduler(engine Adjuster, index IndexSource, interval time.Duration, log zerolog.Logger) *AdjustmentScheduler {
	return &AdjustmentScheduler{
		Engine:   engine,
		Index:    index,
		Interval: interval,
		Actor:    "adjustment-job",
		Results:  nopResults{},
		log:      log,
	}
}

// Start begins the background loop. A non-positive interval leaves the
// scheduler disabled; RunOnce still works.
func (s *AdjustmentScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.log.Info().Msg("adjustment scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.Info().Dur("interval", s.Interval).Msg("adjustment scheduler started")
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *AdjustmentScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info().Msg("adjustment scheduler stopped")
}

func (s *AdjustmentScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce performs a single pass over PENDING_ADJUSTMENT entries.
func (s *AdjustmentScheduler) RunOnce(ctx context.Context) RunSummary {
	var sum RunSummary

	entries, err := s.Engine.ListEntries(ctx, ledger.EntryFilter{Statuses: []ledger.Status{ledger.StatusPendingAdjustment}})
	if err != nil {
		s.log.Error().Err(err).Msg("list entries awaiting adjustment")
		return sum
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		switch s.adjust(ctx, &entry) {
		case "applied":
			sum.Applied++
		case "skipped":
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	if sum.Applied > 0 || sum.Failed > 0 {
		s.log.Info().Int("applied", sum.Applied).Int("skipped", sum.Skipped).Int("failed", sum.Failed).Msg("adjustment pass complete")
	}
	return sum
}

func (s *AdjustmentScheduler) adjust(ctx context.Context, entry *ledger.Entry) (result string) {
	defer func() { s.Results.AdjustmentResult(result) }()

	l := s.log.With().Str("entry_id", string(entry.ID)).Logger()
	if entry.Index == nil {
		l.Warn().Msg("entry awaits adjustment but carries no index link")
		return "skipped"
	}

	value, ok, err := s.Index.Value(ctx, entry.Index.Name, entry.Index.Period)
	if err != nil {
		l.Error().Err(err).Str("index", entry.Index.Name).Msg("index lookup failed")
		return "failed"
	}
	if !ok {
		l.Debug().Str("index", entry.Index.Name).Str("period", entry.Index.Period).Msg("index value not published yet")
		return "skipped"
	}

	_, err = s.Engine.ApplyIndexAdjustment(ctx, ledger.AdjustmentInput{EntryID: entry.ID, IndexValue: value, Actor: s.Actor})
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ledger.ErrInvalidState):
		l.Debug().Err(err).Msg("entry moved on before adjustment")
		return "skipped"
	default:
		l.Error().Err(err).Msg("apply index adjustment")
		return "failed"
	}
}
