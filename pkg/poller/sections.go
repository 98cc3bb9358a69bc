package poller

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/kisy/netdash/pkg/model"
	"github.com/kisy/netdash/pkg/normalize"
	"github.com/kisy/netdash/pkg/source"
)

// fetchFunc performs one section request against one source.
type fetchFunc[T any] func(ctx context.Context, s *source.Client) (T, error)

// loadSection runs the source chain for one section. It only returns an
// error when ctx ends; exhausting the chain yields synth() flagged as fallback.
func loadSection[T any](ctx context.Context, c *Controller, logger *slog.Logger, name model.SectionName, fetch fetchFunc[T], synth func() T) (T, model.Provenance, error) {
	strategies := make([]source.Strategy[T], 0, len(c.sources))
	for _, s := range c.sources {
		strategies = append(strategies, source.Strategy[T]{
			Name:  s.Name(),
			Fetch: func(ctx context.Context) (T, error) { return fetch(ctx, s) },
		})
	}

	out := source.Chain(ctx, logger.With("section", name), c.opts.FetchTimeout, strategies)
	if out.OK() {
		return out.Value, model.Provenance{Source: out.Source, LoadedAt: c.opts.Now()}, nil
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, model.Provenance{}, err
	}

	logger.Warn("all sources failed, substituting demo data", "section", name, "error", out.Err)
	return synth(), model.Provenance{
		Source:   model.SourceDemo,
		Fallback: true,
		Error:    out.Err.Error(),
		LoadedAt: c.opts.Now(),
	}, nil
}

func (c *Controller) loadDevices(ctx context.Context, logger *slog.Logger) ([]model.Device, model.Provenance, error) {
	return loadSection(ctx, c, logger, model.SectionDevices,
		func(ctx context.Context, s *source.Client) ([]model.Device, error) {
			p, err := s.Get(ctx, "get_devices", nil)
			if err != nil {
				return nil, err
			}
			devices, err := normalize.Devices(p["devices"])
			if err != nil {
				return nil, &source.ProtocolError{Source: s.Name(), Err: err}
			}
			return devices, nil
		},
		func() []model.Device { return c.opts.Demo.Devices(c.opts.Now()) })
}

func (c *Controller) loadVisits(ctx context.Context, logger *slog.Logger) ([]model.WebsiteVisit, model.Provenance, error) {
	return loadSection(ctx, c, logger, model.SectionVisits,
		func(ctx context.Context, s *source.Client) ([]model.WebsiteVisit, error) {
			p, err := s.Get(ctx, "get_websites", nil)
			if err != nil {
				return nil, err
			}
			visits, err := normalize.Visits(p["websites"])
			if err != nil {
				return nil, &source.ProtocolError{Source: s.Name(), Err: err}
			}
			return visits, nil
		},
		func() []model.WebsiteVisit { return c.opts.Demo.Visits(c.opts.Now()) })
}

func (c *Controller) loadSpeedHistory(ctx context.Context, logger *slog.Logger) (model.SpeedHistory, model.Provenance, error) {
	return loadSection(ctx, c, logger, model.SectionSpeedHistory,
		func(ctx context.Context, s *source.Client) (model.SpeedHistory, error) {
			p, err := s.Get(ctx, "get_speed_history", nil)
			if err != nil {
				return nil, err
			}
			history, err := normalize.SpeedHistory(p["speed_history"])
			if err != nil {
				return nil, &source.ProtocolError{Source: s.Name(), Err: err}
			}
			return history, nil
		},
		func() model.SpeedHistory { return c.opts.Demo.SpeedHistory(c.opts.Now()) })
}

func (c *Controller) loadTraffic(ctx context.Context, logger *slog.Logger) ([]model.TrafficRecord, model.Provenance, error) {
	now := c.opts.Now()
	query := url.Values{
		"start_date": {now.AddDate(0, 0, -c.opts.TrafficDays).Format(time.DateOnly)},
		"end_date":   {now.Format(time.DateOnly)},
	}
	return loadSection(ctx, c, logger, model.SectionTraffic,
		func(ctx context.Context, s *source.Client) ([]model.TrafficRecord, error) {
			p, err := s.Get(ctx, "get_traffic", query)
			if err != nil {
				return nil, err
			}
			traffic, err := normalize.Traffic(p["traffic"])
			if err != nil {
				return nil, &source.ProtocolError{Source: s.Name(), Err: err}
			}
			return traffic, nil
		},
		func() []model.TrafficRecord { return c.opts.Demo.Traffic(now, c.opts.TrafficDays) })
}
