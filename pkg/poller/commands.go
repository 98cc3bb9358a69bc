package poller

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/kisy/netdash/pkg/source"
)

var ErrInvalidCommand = errors.New("invalid device command")

// SetSpeedLimit caps a device at kbps; 0 removes the limit.
func (c *Controller) SetSpeedLimit(ctx context.Context, ip string, kbps int64) error {
	if err := checkIP(ip); err != nil {
		return err
	}
	if kbps < 0 {
		return fmt.Errorf("%w: speed limit must be >= 0", ErrInvalidCommand)
	}
	return c.command(ctx, map[string]any{
		"action":           "set_speed_limit",
		"device_ip":        ip,
		"speed_limit_kbps": kbps,
	})
}

// BlockDevice blocks or unblocks a device's internet access.
func (c *Controller) BlockDevice(ctx context.Context, ip string, block bool) error {
	if err := checkIP(ip); err != nil {
		return err
	}
	return c.command(ctx, map[string]any{
		"action":    "block_device",
		"device_ip": ip,
		"block":     block,
	})
}

// command posts body to the first source that answers. A source that
// answers with success=false ends the search: the backend understood and
// refused. On success a refresh is triggered.
func (c *Controller) command(ctx context.Context, body map[string]any) error {
	var failures []error
	for _, s := range c.sources {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if c.opts.FetchTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		}
		_, err := s.Post(actx, body)
		cancel()

		if err == nil {
			c.logger.Info("device command applied", "action", body["action"], "ip", body["device_ip"], "source", s.Name())
			c.Trigger()
			return nil
		}
		if source.IsApplication(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("device command failed, trying next source", "action", body["action"], "source", s.Name(), "error", err)
		failures = append(failures, err)
	}
	if len(failures) == 0 {
		return source.ErrNoSources
	}
	return errors.Join(failures...)
}

func checkIP(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: bad device ip %q", ErrInvalidCommand, ip)
	}
	return nil
}
