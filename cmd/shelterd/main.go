package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shelter-engine/pkg/builder"
	"shelter-engine/pkg/config"
	"shelter-engine/pkg/executor"
	"shelter-engine/pkg/logger"
)

func usage() {
	fmt.Printf("Usage: %s [config_path] [--once] [--command <site/device/unit/type> <ACTION> [value]]\n", os.Args[0])
	fmt.Printf("  config_path: Path to configuration file (optional)\n")
	fmt.Printf("  --once: Run a single polling cycle and exit\n")
	fmt.Printf("  --command: Execute one command against a unit and exit\n")
}

// parseCommand turns "site/device/unit/type ACTION [value]" into a request
func parseCommand(args []string) (executor.Request, error) {
	if len(args) < 2 {
		return executor.Request{}, fmt.Errorf("--command needs a unit and an action")
	}
	parts := strings.Split(args[0], "/")
	if len(parts) != 4 {
		return executor.Request{}, fmt.Errorf("unit %q must be site/device/unit/type", args[0])
	}
	req := executor.Request{
		SiteID:     parts[0],
		DeviceID:   parts[1],
		UnitID:     parts[2],
		DeviceType: parts[3],
		Action:     strings.ToUpper(args[1]),
	}
	if len(args) > 2 {
		req.Value = args[2]
	}
	return req, nil
}

func main() {
	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := ""
	once := false
	var command []string

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch arg := args[i]; {
		case arg == "--help" || arg == "-h":
			usage()
			return
		case arg == "--once":
			once = true
		case arg == "--command":
			command = args[i+1:]
			i = len(args)
		case i == 0:
			configPath = arg
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.LogError("Configuration error: %v", err)
		os.Exit(1)
	}
	logFile := logger.NewLogger(&cfg.Logging)
	defer logFile.Close()
	logger.LogStartup("🔧 Logging initialized with level: %s", cfg.Logging.Level)

	engine, err := builder.NewEngineBuilder(cfg).Build(ctx)
	if err != nil {
		logger.LogError("Engine creation error: %v", err)
		os.Exit(1)
	}
	defer engine.Close()

	switch {
	case command != nil:
		req, err := parseCommand(command)
		if err != nil {
			logger.LogError("%v", err)
			usage()
			os.Exit(2)
		}
		out, err := engine.ExecuteOnce(ctx, req)
		if err != nil {
			logger.LogError("❌ %s failed: %v", req.Action, err)
			os.Exit(1)
		}
		fmt.Printf("✅ %s → %s (log %s)\n", req.Action, out.Result, out.LogID)

	case once:
		report, err := engine.RunOnce(ctx)
		if err != nil {
			logger.LogError("❌ Polling cycle failed: %v", err)
			os.Exit(1)
		}
		fmt.Printf("📊 %d units: %d ok, %d partial, %d failed, %d skipped in %v\n",
			report.Units, report.UnitsOK, report.UnitsPartial, report.UnitsFailed, report.UnitsSkipped, report.Duration)
		if report.UnitsFailed > 0 {
			os.Exit(1)
		}

	default:
		if err := engine.Run(ctx); err != nil {
			logger.LogError("Engine error: %v", err)
			os.Exit(1)
		}
		logger.LogInfo("👋 Shelter engine stopped")
	}
}
