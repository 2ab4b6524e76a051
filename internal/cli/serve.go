package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deckstream/deckstream/internal/config"
	"github.com/deckstream/deckstream/internal/server"
	"github.com/deckstream/deckstream/pkg/audio"
	"github.com/deckstream/deckstream/pkg/history"
	"github.com/deckstream/deckstream/pkg/logsink"
	"github.com/deckstream/deckstream/pkg/pipeline"
	"github.com/deckstream/deckstream/pkg/settings"
	"github.com/deckstream/deckstream/pkg/system"
)

// NewServeCmd builds the daemon command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	coreLog, err := logsink.NewRotatingWriter(filepath.Join(cfg.LogDir, "deckstream.log"), 1024*1024, 2)
	if err != nil {
		return err
	}
	defer coreLog.Close()
	logger := pipeline.NewStructuredLogger(cfg.LogLevel, "text", coreLog)

	store := settings.NewStore(filepath.Join(cfg.SettingsDir, "deckstream-settings.json"))
	if err := store.Load(); err != nil {
		return err
	}
	watcher, err := settings.Watch(store)
	if err != nil {
		logger.Warn("settings watcher unavailable", pipeline.Error(err))
	} else {
		defer watcher.Close()
	}

	hist, err := history.Open(filepath.Join(cfg.DataDir, "deckstream-history.db"))
	if err != nil {
		logger.Warn("session history unavailable", pipeline.Error(err))
		hist = nil
	} else {
		defer hist.Close()
	}

	observer := &system.Observer{
		ProcessMarker: audio.CaptureSinkName,
		StreamEnv:     system.BuildStreamEnv(cfg.BinDir, cfg.GSTPluginPath),
	}
	graph := audio.NewGraph(audio.ExecRunner{}, cfg.DenoisePlugin)

	sessionConfig := pipeline.DefaultSessionConfig()
	sessionConfig.GSTPluginPath = cfg.GSTPluginPath
	sessionConfig.BinDir = cfg.BinDir
	sessionConfig.UserHome = cfg.UserHome
	sessionConfig.StdoutLog = filepath.Join(cfg.LogDir, "deckstream-std-out.log")
	sessionConfig.StderrLog = filepath.Join(cfg.LogDir, "deckstream-std-err.log")

	var recorder pipeline.HistoryRecorder
	if hist != nil {
		recorder = hist
	}
	session, err := pipeline.NewSession(sessionConfig, store, graph, observer, recorder, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchdog := pipeline.NewWatchdog(session, observer, logger)
	go watchdog.Run(ctx)

	var reader server.HistoryReader
	if hist != nil {
		reader = hist
	}
	srv := server.New(cfg.ListenAddr, session, store, graph, observer, reader, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	return nil
}
