package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"vaultwatch/internal/engine"
	"vaultwatch/internal/eventbus"
	"vaultwatch/internal/ledger"
	"vaultwatch/internal/lifecycle"
	"vaultwatch/internal/probe"
	"vaultwatch/internal/queue"
	rtsup "vaultwatch/internal/runtime/supervisor"
	"vaultwatch/internal/settings"
	"vaultwatch/internal/storage"

	logx "vaultwatch/pkg/logx"
)

func main() {
	// .env is optional; real environment wins over file values.
	_ = godotenv.Load()

	var (
		settingsPath = flag.String("settings", envStr("VAULTWATCH_SETTINGS", "./notifications.yaml"), "path to notification settings (yaml or json)")
		siteName     = flag.String("site-name", envStr("VAULTWATCH_SITE_NAME", "vaultwatch"), "site name used in subjects and templates")
		siteURL      = flag.String("site-url", envStr("VAULTWATCH_SITE_URL", ""), "dashboard url used in templates")
		storeDriver  = flag.String("storage-driver", envStr("VAULTWATCH_STORAGE_DRIVER", "file"), "storage driver: file, sqlite, none")
		storePath    = flag.String("storage-path", envStr("VAULTWATCH_STORAGE_PATH", "./data/vaultwatch.db"), "storage path")
		probePath    = flag.String("probe-path", envStr("VAULTWATCH_PROBE_PATH", ""), "backup mount to watch for capacity (empty disables)")
		probePct     = flag.Float64("probe-threshold", envFloat("VAULTWATCH_PROBE_THRESHOLD", 90), "capacity warning threshold percent")
		logLevel     = flag.String("log-level", envStr("VAULTWATCH_LOG_LEVEL", "info"), "log level: trace..error")
		logFile      = flag.String("log-file", envStr("VAULTWATCH_LOG_FILE", ""), "log file path (empty for console only)")
	)
	flag.Parse()

	logSvc, log := logx.New(logx.Config{
		Level:   *logLevel,
		Console: true,
		File: logx.FileConfig{
			Enabled: *logFile != "",
			Path:    *logFile,
		},
	})
	defer logSvc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log, options{
		settingsPath: *settingsPath,
		siteName:     *siteName,
		siteURL:      *siteURL,
		storeDriver:  *storeDriver,
		storePath:    *storePath,
		probePath:    *probePath,
		probePct:     *probePct,
	}); err != nil {
		log.Error("fatal", logx.Err(err))
		os.Exit(1)
	}
}

type options struct {
	settingsPath string
	siteName     string
	siteURL      string
	storeDriver  string
	storePath    string
	probePath    string
	probePct     float64
}

func run(ctx context.Context, log logx.Logger, opts options) error {
	bus := eventbus.New()

	store, err := storage.Open(storage.Config{
		Driver: opts.storeDriver,
		Path:   opts.storePath,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	mgr := settings.NewManager(opts.settingsPath)
	mgr.SetLogger(log.With(logx.String("comp", "settings")))
	st, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	q := queue.New(queue.Config{Enabled: true},
		queue.NewLogDispatcher(log.With(logx.String("comp", "dispatch"))),
		log.With(logx.String("comp", "queue")), bus, store)
	q.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		q.Stop(stopCtx)
		stopCancel()
	}()

	led := ledger.New(store, log.With(logx.String("comp", "ledger")))

	eng := engine.New(engine.Options{
		Settings: st,
		Queue:    q,
		Ledger:   led,
		Bus:      bus,
		Logger:   log.With(logx.String("comp", "engine")),
		SiteName: opts.siteName,
		SiteURL:  opts.siteURL,
	})

	dispatcher := lifecycle.NewDispatcher()
	eng.Register(dispatcher)

	sup := rtsup.New(ctx, rtsup.WithLogger(log.With(logx.String("comp", "supervisor"))))

	// Hot-reload settings on file changes.
	updates := mgr.Subscribe(1)
	sup.GoRestart("settings.watch", func(c context.Context) error {
		return mgr.Watch(c)
	})
	sup.Go0("settings.apply", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				eng.ReloadSettings(next)
			}
		}
	})

	// Route lifecycle events arriving on the bus into the dispatcher.
	events, unsub := bus.SubscribeTopic(lifecycle.BusTopicPrefix, 64)
	defer unsub()
	sup.Go0("lifecycle.route", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if lev, ok := ev.Data.(lifecycle.Event); ok {
					dispatcher.Dispatch(c, lev)
				}
			}
		}
	})

	if opts.probePath != "" {
		p := probe.New(probe.Config{
			Enabled:          true,
			Path:             opts.probePath,
			ThresholdPercent: opts.probePct,
		}, dispatcher, log.With(logx.String("comp", "probe")))
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("probe: %w", err)
		}
	}

	log.Info("vaultwatch started",
		logx.String("settings", opts.settingsPath),
		logx.String("storage", opts.storeDriver),
		logx.Bool("notifications_enabled", st.Enabled))

	// No-ops outside a systemd unit with NotifyAccess.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		sup.Go0("systemd.watchdog", func(c context.Context) {
			tick := time.NewTicker(interval / 2)
			defer tick.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-tick.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	return sup.Stop(waitCtx)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
