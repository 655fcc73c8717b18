package main

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/activity"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/config"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/core/manager"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/core/session"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/gateway/httpgw"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/memkv"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/observability"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/placement"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/sink"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/snapshot"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/transport"
)

// run is the main entry point after CLI parsing.
func run(ctx context.Context, opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.SnapshotPath != "" {
		cfg.Snapshot.Path = opts.SnapshotPath
	}
	if opts.Listen != "" {
		cfg.Status.Listen = opts.Listen
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// Startup logs + configuration dump
	zap.L().Info("pixelpainter started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	palette, err := cfg.Canvas.ParsedPalette()
	if err != nil {
		zap.L().Error("bad palette", zap.Error(err))
		return 1
	}
	sentinel, err := canvas.ParseHex(cfg.Canvas.Sentinel)
	if err != nil {
		zap.L().Error("bad protection sentinel", zap.Error(err))
		return 1
	}
	kind, err := placement.ParseKind(cfg.Manager.Strategy)
	if err != nil {
		zap.L().Error("bad strategy", zap.Error(err))
		return 1
	}

	snap := snapshot.New()
	files := snapshot.NewFileSource(cfg.Snapshot.Path, snap, palette)
	if err := files.Load(); err != nil {
		zap.L().Error("failed to load snapshot", zap.String("path", cfg.Snapshot.Path), zap.Error(err))
		return 1
	}
	if cfg.Snapshot.Watch {
		if err := files.Watch(ctx); err != nil {
			zap.L().Warn("snapshot hot reload disabled", zap.Error(err))
		}
	}

	metrics := observability.NewMetrics()
	// activity store (in-mem) for per-identity counters and pixel attribution
	kv := memkv.New(memkv.Options{MaxBytes: cfg.Manager.ActivityMaxByte})
	defer kv.Close()
	if err := metrics.WatchStore("activity", kv.Metrics); err != nil {
		zap.L().Warn("activity store metrics disabled", zap.Error(err))
	}
	act, err := activity.NewStore(kv, cfg.Manager.AttributionTTL)
	if err != nil {
		zap.L().Error("failed to init activity store", zap.Error(err))
		return 1
	}

	sinks := sink.Multi{sink.Log{L: logger}}
	if cfg.Events.Path != "" {
		stream, err := sink.OpenStream(cfg.Events.Path, cfg.Events.Format)
		if err != nil {
			zap.L().Error("failed to open event stream", zap.Error(err))
			return 1
		}
		defer func() { _ = stream.Close() }()
		sinks = append(sinks, stream)
	}
	events := sink.NewAsync(sinks, cfg.Events.Buffer)
	defer events.Close()

	fetcher := canvas.NewFetcher(canvas.FetcherConfig{
		RasterURL:     cfg.Canvas.RasterURL,
		ProtectionURL: cfg.Canvas.ProtectionURL,
		Sentinel:      sentinel,
		UserAgent:     cfg.Transport.UserAgent,
		Timeout:       cfg.Canvas.FetchTimeout,
	}, nil)
	dialer := manager.TransportDialer(transport.Options{
		BaseURL:        cfg.Transport.BaseURL,
		Origin:         cfg.Transport.Origin,
		UserAgent:      cfg.Transport.UserAgent,
		Timeout:        cfg.Transport.Timeout,
		PollInterval:   cfg.Transport.PollInterval,
		KeepaliveEvery: cfg.Transport.KeepaliveEvery,
		AckTimeout:     cfg.Transport.AckTimeout,
		FatalCodes:     cfg.Transport.FatalCodes,
		Logger:         logger,
	})
	mgr, err := manager.New(snap, manager.Options{
		Dialer:  dialer,
		Raster:  fetcher,
		Palette: palette,
		Session: session.Options{
			BatchSize:    cfg.Session.BatchSize,
			MinDelay:     cfg.Session.MinDelay,
			IdleInterval: cfg.Session.IdleInterval,
			Speed:        cfg.Session.Speed,
			MinSpeed:     cfg.Session.MinSpeed,
			MaxSpeed:     cfg.Session.MaxSpeed,
		},
		ErrorStall:    cfg.Session.ErrorStall,
		Tick:          cfg.Manager.Tick,
		CreateSpacing: cfg.Manager.CreateSpacing,
		LowWater:      cfg.Manager.LowWater,
		QueueLimit:    cfg.Manager.QueueLimit,
		TaskWindow:    cfg.Manager.TaskWindow,
		ManualWindow:  cfg.Manager.ManualWindow,
		InboxLimit:    cfg.Manager.InboxLimit,
		Strategy:      kind,
		Sink:          events,
		Activity:      act,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		zap.L().Error("failed to create manager", zap.Error(err))
		return 1
	}

	if cfg.Status.Listen != "" {
		gw := httpgw.New(mgr, act, metrics)
		go func() {
			if err := gw.Serve(ctx, cfg.Status.Listen); err != nil {
				zap.L().Error("status server failed", zap.Error(err))
			}
		}()
	}

	zap.L().Info("engine is running; press Ctrl+C to exit")
	if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Error("manager stopped", zap.Error(err))
		return 1
	}
	return 0
}
