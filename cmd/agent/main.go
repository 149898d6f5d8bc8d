package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/monihub/monihub/internal/agent/communicator"
	"github.com/monihub/monihub/internal/agent/config"
	"github.com/monihub/monihub/internal/agent/executor"
	"github.com/monihub/monihub/internal/agent/runner"
	"github.com/monihub/monihub/internal/agent/state"
	"github.com/monihub/monihub/internal/agent/stats"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "path to agent config file")
	flag.Parse()

	cfg, loadErr := config.Load(*configPath)

	agentState, err := state.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize agent state: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg, agentState.Logs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if loadErr != nil {
		log.Warn("config not loaded, running on defaults", zap.Error(loadErr))
	}
	if cfg.ServerURL == "" {
		log.Fatal("server_url is not configured (set it in the config file or MONIHUB_SERVER_URL)")
	}

	log.Info("agent starting",
		zap.String("instance_id", agentState.InstanceID),
		zap.String("server_url", cfg.ServerURL),
		zap.String("version", cfg.AgentVersion),
	)

	client := communicator.NewClient(communicator.ClientConfig{
		ServerURL: cfg.ServerURL,
		State:     agentState,
		Logger:    log,
	})

	exec := executor.NewExecutor(executor.ExecutorConfig{
		Config: cfg,
		State:  agentState,
		Client: client,
		Logger: log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Task.IsEnabled() {
		taskRunner := runner.New(runner.RunnerConfig{
			State:    agentState,
			Client:   client,
			Executor: exec,
			Logger:   log,
		})
		go taskRunner.Run(ctx)
	} else {
		log.Info("task loop disabled by config")
	}

	if cfg.Report.IsEnabled() {
		go reportLoop(ctx, agentState, client, log)
	} else {
		log.Info("report loop disabled by config")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("agent shutting down")
	cancel()
}

// reportLoop sends one telemetry report immediately, then one per
// configured interval. Reports carry the log entries accumulated since the
// previous successful send.
func reportLoop(ctx context.Context, agentState *state.AgentState, client *communicator.Client, log *zap.Logger) {
	collector := stats.NewCollector()
	interval := time.Duration(agentState.Config.Report.IntervalSeconds) * time.Second

	sendReport(agentState, collector, client, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendReport(agentState, collector, client, log)
		}
	}
}

func sendReport(agentState *state.AgentState, collector *stats.Collector, client *communicator.Client, log *zap.Logger) {
	if !agentState.HTTPEnabled() {
		return
	}

	snap := collector.Collect()
	logs := agentState.Logs.Drain()
	req := &communicator.ReportRequest{
		InstanceID:      agentState.InstanceID,
		AgentType:       agentState.Config.AgentType,
		AgentVersion:    agentState.Config.AgentVersion,
		SystemInfo:      snap.System,
		NetworkInfo:     snap.Network,
		HardwareInfo:    snap.Hardware,
		RuntimeInfo:     snap.Runtime,
		ReportTimestamp: snap.CollectedAt.UTC().Format(time.RFC3339Nano),
		Logs:            logs,
	}

	resp, err := client.SendReport(req)
	if err != nil {
		// Undelivered entries go back into the ring for the next report.
		agentState.Logs.Restore(logs)
		log.Warn("report failed", zap.Error(err))
		return
	}
	log.Debug("report accepted", zap.Uint("record_id", resp.RecordID))
}

// newLogger builds the console logger and tees every entry into the log
// ring buffer so it rides along with the next report.
func newLogger(cfg *config.Config, logs *state.LogStore) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = "console"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if cfg.LogPath != "" {
		zapCfg.OutputPaths = []string{"stderr", cfg.LogPath}
	}

	log, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return log.WithOptions(zap.Hooks(func(entry zapcore.Entry) error {
		logs.Append(entry.Level.String(), entry.Message)
		return nil
	})), nil
}
