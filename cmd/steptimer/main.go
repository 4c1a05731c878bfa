package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tenderdesk/steptimer/internal/api"
	"github.com/tenderdesk/steptimer/internal/clock"
	"github.com/tenderdesk/steptimer/internal/engine"
	"github.com/tenderdesk/steptimer/internal/notify"
	"github.com/tenderdesk/steptimer/internal/registry"
	"github.com/tenderdesk/steptimer/internal/store"
	"github.com/tenderdesk/steptimer/internal/sweeper"
	"github.com/tenderdesk/steptimer/internal/util"
	"github.com/tenderdesk/steptimer/internal/workflow"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for step-timer state data
	DefaultStateDir = "/var/lib/steptimer"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "steptimer.db"
)

// Config holds environment configuration
type Config struct {
	DBDriver  string
	DBDSN     string
	StateDir  string
	APIAddr   string
	SweepCron string
	StepsFile string
	AlertsOn  bool
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	timerStore, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize timer store", "error", err)
		os.Exit(1)
	}
	defer timerStore.Close()

	reg, err := buildRegistry(flags)
	if err != nil {
		slog.Error("Failed to build step registry", "error", err)
		os.Exit(1)
	}

	notifier, err := buildNotifier(flags)
	if err != nil {
		slog.Error("Failed to initialize breach notifier", "error", err)
		os.Exit(1)
	}

	clk := clock.NewSystemClock()
	eng := engine.NewEngine(timerStore, reg, clk, engine.WithNotifier(notifier))
	asm := workflow.NewAssembler(timerStore, reg, clk)

	swp := sweeper.New(eng, reg)
	if err := swp.Start(*flags.sweepCron); err != nil {
		slog.Error("Failed to start expiry sweeper", "error", err, "cron", *flags.sweepCron)
		os.Exit(1)
	}
	defer swp.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping step-timer service",
		"db_driver", *flags.dbDriver, "api_addr", *flags.apiAddr, "sweep_cron", *flags.sweepCron)
	server := api.NewServer(eng, asm, reg, *flags.apiAddr)
	if err := server.Run(ctx); err != nil {
		slog.Error("Step-timer service failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Step-timer service exited successfully")
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDriver  *string
	dbDSN     *string
	apiAddr   *string
	sweepCron *string
	stepsFile *string
	alertsOn  *bool
}

// initializeLogger sets up structured logging. STEPTIMER_DEBUG enables debug level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("STEPTIMER_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DBDriver:  os.Getenv("STEPTIMER_DB_DRIVER"),
		DBDSN:     os.Getenv("DATABASE_URL"),
		StateDir:  os.Getenv("STEPTIMER_STATE_DIR"),
		APIAddr:   os.Getenv("API_ADDR"),
		SweepCron: os.Getenv("SWEEP_CRON"),
		StepsFile: os.Getenv("STEPTIMER_STEPS_FILE"),
		AlertsOn:  util.ParseBoolEnv("SLA_ALERTS_ENABLED", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No STEPTIMER_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DBDriver == "" {
		if config.DBDSN != "" {
			config.DBDriver = "postgres"
		} else {
			config.DBDriver = "sqlite"
		}
	}
	if config.SweepCron == "" {
		config.SweepCron = sweeper.DefaultCronExpr
	}

	slog.Debug("environment variables loaded",
		"STEPTIMER_DB_DRIVER", config.DBDriver,
		"DATABASE_URL_SET", config.DBDSN != "",
		"STEPTIMER_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"SWEEP_CRON", config.SweepCron,
		"STEPTIMER_STEPS_FILE", config.StepsFile,
		"SLA_ALERTS_ENABLED", config.AlertsOn)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for step-timer data (overrides $STEPTIMER_STATE_DIR)"),
		dbDriver:  flag.String("db-driver", config.DBDriver, "timer store driver: postgres, sqlite or memory (overrides $STEPTIMER_DB_DRIVER)"),
		dbDSN:     flag.String("db-dsn", config.DBDSN, "database DSN for the timer store (overrides $DATABASE_URL)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepCron: flag.String("sweep-cron", config.SweepCron, "cron expression for the expiry sweep (overrides $SWEEP_CRON)"),
		stepsFile: flag.String("steps-file", config.StepsFile, "JSON file with step definitions replacing the built-in table (overrides $STEPTIMER_STEPS_FILE)"),
		alertsOn:  flag.Bool("sla-alerts", config.AlertsOn, "enable Twilio SMS alerts on SLA breach (overrides $SLA_ALERTS_ENABLED)"),
	}
	flag.Parse()
	return flags
}

// buildStore creates the timer store selected by the db-driver flag.
func buildStore(flags Flags) (store.TimerStore, error) {
	switch *flags.dbDriver {
	case "postgres":
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	case "memory":
		slog.Warn("Using in-memory timer store: state will not survive restarts")
		return store.NewInMemoryStore(), nil
	default:
		dsn := *flags.dbDSN
		if dsn == "" {
			dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", dsn)
		}
		return store.NewSQLiteStore(store.WithDSN(dsn))
	}
}

// buildRegistry loads the step definition table: the built-in defaults, or a
// JSON replacement file when configured.
func buildRegistry(flags Flags) (*registry.Registry, error) {
	defs := registry.Defaults()
	if *flags.stepsFile != "" {
		loaded, err := registry.LoadFile(*flags.stepsFile)
		if err != nil {
			return nil, err
		}
		defs = loaded
	}
	return registry.New(defs)
}

// buildNotifier selects the breach notification channel.
func buildNotifier(flags Flags) (notify.Notifier, error) {
	if !*flags.alertsOn {
		return notify.NewNoopNotifier(), nil
	}
	return notify.NewTwilioNotifier()
}
