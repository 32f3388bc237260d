// Package jobs runs the periodic background work: pushing queued
// deletions to the database and refreshing ICS subscriptions.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"fieldcal/internal/ics"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
)

// Parser accepts standard 5-field cron expressions and descriptors such
// as "@hourly" or "@every 10m".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Flusher pushes queued deletions. *store.Store satisfies it.
type Flusher interface {
	FlushDeletions(ctx context.Context) error
}

// Fetcher downloads one subscription. *ics.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, sub ics.Subscription) (ics.Payload, error)
}

// Importer writes imported records durably and reads the result back.
// *db.Repo satisfies it.
type Importer interface {
	Import(ctx context.Context, scheduleID int64, recs []model.EntryRecord) (int, error)
	LoadSchedule(ctx context.Context, id int64) (*model.Schedule, error)
}

// Replacer swaps a schedule's in-memory contents. *store.Store satisfies
// it.
type Replacer interface {
	Replace(s *model.Schedule)
}

// Runner owns the cron scheduler.
type Runner struct {
	cron    *cron.Cron
	flusher Flusher
	fetcher Fetcher
	imp     Importer
	repl    Replacer
	subs    []ics.Subscription

	mu      sync.Mutex
	running bool
}

// Options wires a Runner. Fetcher, Importer and Replacer may be nil when
// no subscriptions are configured.
type Options struct {
	Spec          string
	Flusher       Flusher
	Fetcher       Fetcher
	Importer      Importer
	Replacer      Replacer
	Subscriptions []ics.Subscription
}

// New validates opts.Spec and registers the periodic tick.
func New(opts Options) (*Runner, error) {
	if _, err := Parser.Parse(opts.Spec); err != nil {
		return nil, fmt.Errorf("jobs: invalid cron spec %q: %w", opts.Spec, err)
	}
	if len(opts.Subscriptions) > 0 && (opts.Fetcher == nil || opts.Importer == nil) {
		return nil, errors.New("jobs: subscriptions need a fetcher and an importer")
	}

	r := &Runner{
		cron:    cron.New(cron.WithParser(Parser)),
		flusher: opts.Flusher,
		fetcher: opts.Fetcher,
		imp:     opts.Importer,
		repl:    opts.Replacer,
		subs:    opts.Subscriptions,
	}
	if _, err := r.cron.AddFunc(opts.Spec, func() { r.Tick(context.Background()) }); err != nil {
		return nil, fmt.Errorf("jobs: schedule: %w", err)
	}
	return r, nil
}

func (r *Runner) Start() {
	r.cron.Start()
	appLog.Info("jobs: scheduler started", "subscriptions", len(r.subs))
}

// Stop halts the scheduler and waits for a running tick to finish or ctx
// to expire.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Warn("jobs: stop timed out with a tick still running")
	}
}

// Tick flushes deletions, then refreshes every subscription. Overlapping
// ticks are skipped. Errors are logged and joined. A failed flush does not
// stop the refresh; the store keeps entries queued for deletion out of the
// reloaded schedule.
func (r *Runner) Tick(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		appLog.Debug("jobs: tick skipped, previous still running")
		return nil
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	var errs []error
	if r.flusher != nil {
		if err := r.flusher.FlushDeletions(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sub := range r.subs {
		if err := r.Refresh(ctx, sub); err != nil {
			appLog.Error("jobs: subscription refresh failed", err, "id", sub.ID, "schedule_id", sub.ScheduleID)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh imports one subscription into its schedule and reloads the
// schedule into memory.
func (r *Runner) Refresh(ctx context.Context, sub ics.Subscription) error {
	if r.fetcher == nil || r.imp == nil {
		return errors.New("jobs: no fetcher or importer configured")
	}
	p, err := r.fetcher.Fetch(ctx, sub)
	if err != nil {
		return err
	}
	recs, err := ics.Parse(sub.ScheduleID, p.Body)
	if err != nil {
		return err
	}
	return ImportInto(ctx, r.imp, r.repl, sub.ScheduleID, recs)
}

// ImportInto writes recs to scheduleID and, when repl is set, replaces the
// in-memory schedule with the durable result.
func ImportInto(ctx context.Context, imp Importer, repl Replacer, scheduleID int64, recs []model.EntryRecord) error {
	n, err := imp.Import(ctx, scheduleID, recs)
	if err != nil {
		return err
	}
	appLog.Info("jobs: imported entries", "schedule_id", scheduleID, "count", n)
	if repl == nil {
		return nil
	}
	s, err := imp.LoadSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	repl.Replace(s)
	return nil
}
