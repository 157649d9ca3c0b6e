package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"framesense/backend"
	"framesense/config"
	"framesense/eventloop"
	"framesense/flow"
	"framesense/host"
	"framesense/hotkey"
	"framesense/logutil"
	"framesense/messages"
	"framesense/ocr"
	"framesense/pipeline"
	"framesense/screenshot"
	"framesense/secrets"
	"framesense/session"
	"framesense/tray"
	"framesense/ui"
	"framesense/windowstate"
	"framesense/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("failed to load configuration", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		zap.L().Fatal("failed to create state directory", zap.String("dir", cfg.StateDir), zap.Error(err))
	}

	logger := logutil.Setup(cfg.EnableFileLogging, cfg.StateDir)
	defer logger.Sync()

	logger.Info("starting framesense",
		zap.String("backend", cfg.BackendURL),
		zap.String("host_mode", cfg.HostMode),
		zap.String("ai_mode", cfg.AIMode),
		zap.String("hotkey", cfg.Hotkey),
		zap.String("default_model", cfg.DefaultModel),
		zap.String("vision_key", logutil.RedactKey(cfg.VisionAPIKey)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := ocr.NewVisionEngine(ocr.VisionConfig{
		APIKey: cfg.VisionAPIKey,
		Model:  cfg.VisionModel,
	}, logger.Named("ocr"))

	commander := connectHost(cfg, engine, logger)
	defer commander.Close()

	store := secrets.NewFileStore(cfg.StateDir)
	client := backend.New(cfg.BackendURL, store, logger.Named("backend"))
	sess := session.New(client, commander, cfg.StateDir, logger.Named("session"))

	screenHeight := 0
	if bounds, err := screenshot.PrimaryDisplayBounds(); err == nil {
		screenHeight = bounds.Height
	}
	sync := windowstate.New(commander, screenHeight, logger.Named("window"))
	coord := ui.NewCoordinator(func(prev, next ui.State) {
		logger.Debug("panel transition",
			zap.String("from", prev.Active.String()), zap.String("to", next.Active.String()))
	})

	var analyzer pipeline.Analyzer = client
	if cfg.AIMode == config.AIModeDirect {
		analyzer = pipeline.NewDirectAnalyzer(cfg.VisionAPIKey, cfg.VisionModel, "", logger.Named("direct"))
	}

	var loop *eventloop.Loop
	post := func(ev messages.Event) { loop.Post(ev) }

	pipe := pipeline.New(analyzer, sync, coord.State, post, cfg.DefaultModel, logger.Named("pipeline"))

	pool := worker.New(engine, 0, logger.Named("worker"))
	defer pool.Close()

	notify := func(message string) {
		logger.Warn("user notice", zap.String("message", message))
		tray.UpdateTooltip("FrameSense: " + message)
	}
	flowCtrl := flow.New(commander, pipe, coord, sync, pool, post, notify,
		time.Duration(cfg.OCRDeadlineSec)*time.Second, logger.Named("flow"))

	loop = eventloop.New(commander, sess, pipe, flowCtrl, coord, sync, logger.Named("loop"))
	loop.SetBusyNotifier(func(busy bool) {
		if busy {
			tray.UpdateTooltip("FrameSense: thinking...")
		} else {
			tray.UpdateTooltip("")
		}
	})

	hotkey.Listen(cfg.Hotkey, logger.Named("hotkey"), func() {
		loop.Post(messages.HotkeyPressed{})
	})

	go tray.Run(tray.Handlers{
		OnCapture: func() { loop.Post(messages.HotkeyPressed{}) },
		OnQuit:    cancel,
	}, logger.Named("tray"))
	defer tray.Quit()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down on signal")
		cancel()
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("event loop stopped", zap.Error(err))
	}
	logger.Info("framesense stopped")
}

// connectHost dials the resident shell in IPC mode and falls back to
// the in-process adapter when no shell answers.
func connectHost(cfg *config.Config, engine ocr.Engine, logger *zap.Logger) host.Commander {
	if cfg.HostMode == config.HostModeIPC {
		ipc, err := host.DialIPC(host.IPCConfig{
			PortStart: cfg.HostPortStart,
			PortEnd:   cfg.HostPortEnd,
		}, logger.Named("ipc"))
		if err == nil {
			logger.Info("connected to host shell")
			return ipc
		}
		logger.Warn("no host shell found, using local adapter", zap.Error(err))
	}
	return host.NewLocal(cfg.StateDir, engine, logger.Named("local"))
}
