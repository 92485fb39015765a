package probe

import (
	"context"
	"errors"
	"strings"

	"github.com/robfig/cron/v3"

	"vaultwatch/internal/lifecycle"

	logx "vaultwatch/pkg/logx"
)

// Config configures the storage capacity probe.
type Config struct {
	Enabled bool
	// Path is the backup storage mount to watch.
	Path string
	// ThresholdPercent triggers a storage_warning at or above this usage.
	ThresholdPercent float64
	// Schedule is a cron expression; empty means every 15 minutes.
	Schedule string
}

// Probe periodically checks backup storage usage and raises a
// storage_warning lifecycle event when it crosses the threshold.
type Probe struct {
	cfg        Config
	dispatcher *lifecycle.Dispatcher
	log        logx.Logger

	cron *cron.Cron

	// usageFn is swapped in tests; production reads the filesystem.
	usageFn func(path string) (used, total int64, err error)

	// warned suppresses repeat warnings until usage drops below the
	// threshold again.
	warned bool
}

func New(cfg Config, d *lifecycle.Dispatcher, log logx.Logger) *Probe {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ThresholdPercent <= 0 || cfg.ThresholdPercent > 100 {
		cfg.ThresholdPercent = 90
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "*/15 * * * *"
	}
	return &Probe{
		cfg:        cfg,
		dispatcher: d,
		log:        log,
		usageFn:    diskUsage,
	}
}

// Start schedules the probe. It is a no-op when disabled or unconfigured.
func (p *Probe) Start(ctx context.Context) error {
	if !p.cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(p.cfg.Path) == "" {
		return errors.New("probe path is required")
	}

	c := cron.New()
	_, err := c.AddFunc(p.cfg.Schedule, func() { p.runOnce(ctx) })
	if err != nil {
		return err
	}
	p.cron = c
	c.Start()

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	p.log.Info("storage probe started",
		logx.String("path", p.cfg.Path),
		logx.String("schedule", p.cfg.Schedule),
		logx.Float64("threshold", p.cfg.ThresholdPercent))
	return nil
}

func (p *Probe) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}

func (p *Probe) runOnce(ctx context.Context) {
	used, total, err := p.usageFn(p.cfg.Path)
	if err != nil {
		p.log.Warn("storage probe check failed", logx.String("path", p.cfg.Path), logx.Err(err))
		return
	}
	if total <= 0 {
		return
	}
	pct := float64(used) / float64(total) * 100

	if pct < p.cfg.ThresholdPercent {
		if p.warned {
			p.log.Info("storage usage back below threshold",
				logx.String("path", p.cfg.Path), logx.Float64("used_percent", pct))
		}
		p.warned = false
		return
	}
	if p.warned {
		return
	}
	p.warned = true

	ev := lifecycle.StorageWarning{
		Path:        p.cfg.Path,
		UsedBytes:   used,
		TotalBytes:  total,
		UsedPercent: pct,
		Threshold:   p.cfg.ThresholdPercent,
	}
	if p.dispatcher != nil {
		p.dispatcher.Dispatch(ctx, ev)
	}
	p.log.Warn("storage nearing capacity",
		logx.String("path", p.cfg.Path),
		logx.Float64("used_percent", pct),
		logx.Float64("threshold", p.cfg.ThresholdPercent))
}
