// Package poller owns the dashboard snapshot. It refreshes it on a timer or on
// demand by fetching each section through an ordered list of candidate
// sources, substituting demo data for sections no source could provide.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kisy/netdash/pkg/demo"
	"github.com/kisy/netdash/pkg/model"
	"github.com/kisy/netdash/pkg/normalize"
	"github.com/kisy/netdash/pkg/source"
	"github.com/kisy/netdash/pkg/stats"
)

var (
	// ErrCycleCancelled is returned by a cycle that was superseded or whose
	// context ended. Such a cycle never replaces the snapshot.
	ErrCycleCancelled = errors.New("refresh cycle cancelled")

	// ErrDevicesUnavailable means no source returned devices. The snapshot was
	// still replaced, with demo devices.
	ErrDevicesUnavailable = errors.New("devices unavailable from every source")
)

type Options struct {
	Interval     time.Duration
	FetchTimeout time.Duration // per source attempt, 0 = unbounded
	TrafficDays  int
	Hostnames    map[string]string // IP -> display name
	Demo         *demo.Generator
	Now          func() time.Time
}

// Update is delivered to subscribers after a snapshot replacement. A slow
// subscriber only sees the newest snapshot; older ones are skipped.
type Update struct {
	Snapshot *model.Snapshot
	Summary  stats.Summary
}

// CycleStats are cumulative counters since start.
type CycleStats struct {
	Completed    uint64
	Cancelled    uint64
	Fallback     uint64
	Skipped      uint64 // ticks dropped because a cycle was in flight
	LastDuration time.Duration
}

type Controller struct {
	logger  *slog.Logger
	sources []*source.Client
	opts    Options

	snap atomic.Pointer[model.Snapshot]

	// cycleMu is held for the whole of a cycle, so cycles never overlap.
	cycleMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the in-flight cycle
	subs   []func(Update)

	// pending holds the latest snapshot not yet handed to subscribers.
	pending     chan *model.Snapshot
	deliverOnce sync.Once

	trigger chan struct{}

	completed    atomic.Uint64
	cancelled    atomic.Uint64
	fallback     atomic.Uint64
	skipped      atomic.Uint64
	lastDuration atomic.Int64
}

func New(logger *slog.Logger, sources []*source.Client, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Demo == nil {
		opts.Demo = demo.NewGenerator(opts.Now().UnixNano())
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.TrafficDays <= 0 {
		opts.TrafficDays = 7
	}
	c := &Controller{
		logger:  logger,
		sources: sources,
		opts:    opts,
		pending: make(chan *model.Snapshot, 1),
		trigger: make(chan struct{}, 1),
	}
	c.snap.Store(model.NewSnapshot())
	return c
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (c *Controller) Snapshot() *model.Snapshot {
	return c.snap.Load()
}

// Subscribe registers fn to be called after snapshot replacements. Calls are
// made in order from a single delivery goroutine; a slow subscriber never
// holds up a cycle, it only misses intermediate snapshots.
func (c *Controller) Subscribe(fn func(Update)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
	c.deliverOnce.Do(func() { go c.deliver() })
}

func (c *Controller) deliver() {
	for snap := range c.pending {
		c.mu.Lock()
		subs := slices.Clone(c.subs)
		c.mu.Unlock()

		u := Update{Snapshot: snap, Summary: stats.Compute(snap)}
		for _, fn := range subs {
			fn(u)
		}
	}
}

// publish replaces any undelivered snapshot with snap. Only cycles call it,
// and cycles are serialized, so the send after the drain cannot block.
func (c *Controller) publish(snap *model.Snapshot) {
	select {
	case <-c.pending:
	default:
	}
	select {
	case c.pending <- snap:
	default:
	}
}

func (c *Controller) Stats() CycleStats {
	return CycleStats{
		Completed:    c.completed.Load(),
		Cancelled:    c.cancelled.Load(),
		Fallback:     c.fallback.Load(),
		Skipped:      c.skipped.Load(),
		LastDuration: time.Duration(c.lastDuration.Load()),
	}
}

// Trigger asks Run to refresh as soon as possible. It never blocks; repeated
// triggers before Run picks one up collapse into one.
func (c *Controller) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes immediately, then on every interval tick and on Trigger,
// until ctx is done. A tick that arrives while a cycle is in flight is skipped.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.logCycle(c.LoadAll(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !c.cycleMu.TryLock() {
				c.skipped.Add(1)
				c.logger.Debug("refresh in flight, skipping tick")
				continue
			}
			snap, err := c.cycle(ctx)
			c.cycleMu.Unlock()
			c.logCycle(snap, err)
		case <-c.trigger:
			c.logCycle(c.Refresh(ctx))
		}
	}
}

func (c *Controller) logCycle(_ *model.Snapshot, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleCancelled):
		c.logger.Debug("refresh cycle cancelled", "error", err)
	default:
		c.logger.Warn("refresh cycle degraded", "error", err)
	}
}

// LoadAll runs one refresh cycle, waiting for any in-flight cycle to finish
// first. It returns the new snapshot, or ErrCycleCancelled if ctx ended or the
// cycle was superseded. ErrDevicesUnavailable is returned together with the
// (demo-filled) snapshot.
func (c *Controller) LoadAll(ctx context.Context) (*model.Snapshot, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	return c.cycle(ctx)
}

// Refresh cancels the in-flight cycle, if any, and runs a new one.
func (c *Controller) Refresh(ctx context.Context) (*model.Snapshot, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	return c.LoadAll(ctx)
}

func (c *Controller) cycle(ctx context.Context) (*model.Snapshot, error) {
	cctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	next := model.NewSnapshot()
	next.CycleID = uuid.NewString()
	next.StartedAt = c.opts.Now()
	logger := c.logger.With("cycle", next.CycleID)
	logger.Debug("refresh cycle started")

	var devP, visP, histP, trafP model.Provenance
	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() (err error) {
		next.Devices, devP, err = c.loadDevices(gctx, logger)
		return err
	})
	g.Go(func() (err error) {
		next.Visits, visP, err = c.loadVisits(gctx, logger)
		return err
	})
	g.Go(func() (err error) {
		next.SpeedHistory, histP, err = c.loadSpeedHistory(gctx, logger)
		return err
	})
	g.Go(func() (err error) {
		next.Traffic, trafP, err = c.loadTraffic(gctx, logger)
		return err
	})
	if err := g.Wait(); err != nil {
		c.cancelled.Add(1)
		return nil, fmt.Errorf("%w: %v", ErrCycleCancelled, err)
	}

	next.Provenance[model.SectionDevices] = devP
	next.Provenance[model.SectionVisits] = visP
	next.Provenance[model.SectionSpeedHistory] = histP
	next.Provenance[model.SectionTraffic] = trafP
	normalize.ApplyHostnames(next.Devices, c.opts.Hostnames)
	next.CompletedAt = c.opts.Now()

	c.mu.Lock()
	if cctx.Err() != nil {
		c.mu.Unlock()
		c.cancelled.Add(1)
		return nil, fmt.Errorf("%w: %v", ErrCycleCancelled, cctx.Err())
	}
	prev := c.snap.Swap(next)
	c.mu.Unlock()

	c.completed.Add(1)
	c.lastDuration.Store(int64(next.CompletedAt.Sub(next.StartedAt)))
	checkCounters(logger, prev, next)

	summary := stats.Compute(next)
	if next.UsingFallbackData() {
		c.fallback.Add(1)
		var demoSections []string
		for _, name := range model.Sections {
			if next.SectionFallback(name) {
				demoSections = append(demoSections, string(name))
			}
		}
		logger.Warn("using demo data - API connection failed", "sections", demoSections)
	}
	logger.Info("refresh cycle complete",
		"devices", len(next.Devices),
		"active", summary.ActiveDevices,
		"websites", summary.UniqueWebsites,
		"fallback", next.UsingFallbackData(),
		"duration", next.CompletedAt.Sub(next.StartedAt))

	c.publish(next)

	if devP.Fallback {
		return next, fmt.Errorf("%w: %s", ErrDevicesUnavailable, devP.Error)
	}
	return next, nil
}

// checkCounters warns when a device's cumulative byte counters went backwards
// between two snapshots that both came from a real source.
func checkCounters(logger *slog.Logger, prev, next *model.Snapshot) {
	if prev == nil || prev.CycleID == "" {
		return
	}
	if prev.SectionFallback(model.SectionDevices) || next.SectionFallback(model.SectionDevices) {
		return
	}
	before := make(map[string]model.Device, len(prev.Devices))
	for _, d := range prev.Devices {
		before[d.IP] = d
	}
	for _, d := range next.Devices {
		old, ok := before[d.IP]
		if !ok {
			continue
		}
		if d.BytesIn < old.BytesIn || d.BytesOut < old.BytesOut {
			logger.Warn("byte counters went backwards",
				"ip", d.IP,
				"bytes_in_prev", old.BytesIn, "bytes_in", d.BytesIn,
				"bytes_out_prev", old.BytesOut, "bytes_out", d.BytesOut)
		}
	}
}
