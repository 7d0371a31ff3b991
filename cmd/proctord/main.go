// proctord supervises one exam attempt on the candidate's machine.
//
// It ingests integrity signals from the kiosk-browser shim (and, on Linux,
// the desktop session), debounces them into a violation ledger, escalates
// through warning tiers, enforces fullscreen, reconciles with the exam
// server, and exposes a loopback HTTP surface for the presentation layer
// and proctorctl.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"proctord/internal/capture"
	"proctord/internal/config"
	"proctord/internal/debounce"
	"proctord/internal/escalation"
	"proctord/internal/fullscreen"
	"proctord/internal/health"
	"proctord/internal/ledger"
	"proctord/internal/logging"
	"proctord/internal/reconcile"
	"proctord/internal/session"
	"proctord/internal/violation"
)

var (
	configPath = flag.String("config", "", "path to config file")
	envFile    = flag.String("env", "", "path to .env file with the bearer credential")
	examID     = flag.String("exam", "", "exam identifier (overrides config)")
	duration   = flag.Int("duration", 0, "exam duration in minutes (overrides config)")
	serverURL  = flag.String("server", "", "exam server base URL (overrides config)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "proctord: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
	} else {
		// A .env next to the binary is optional.
		_ = godotenv.Load()
	}

	cfg, _, err := config.LoadOrCreate(*configPath)
	if err != nil {
		return err
	}
	if *examID != "" {
		cfg.Exam.ExamID = *examID
	}
	if *duration > 0 {
		cfg.Exam.DurationMinutes = *duration
	}
	if *serverURL != "" {
		cfg.Server.BaseURL = *serverURL
	}

	if cfg.Exam.ExamID == "" {
		return fmt.Errorf("no exam id: set -exam, exam.exam_id, or PROCTORD_EXAM_ID")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	unlock, err := acquireLock(cfg.Daemon.LockFile)
	if err != nil {
		return fmt.Errorf("another proctord appears to be running: %w", err)
	}
	defer unlock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	credential := cfg.Credential()

	crash := logging.NewCrashHandler(filepath.Join(cfg.Daemon.DataDir, "crashes"),
		sessionID, cfg.Exam.ExamID)
	defer crash.Recover()

	// Collaborators, wired per exam attempt.
	led := ledger.New()
	deb := debounce.New(time.Duration(cfg.Policy.DebounceWindowMs) * time.Millisecond)
	policy := violation.Policy{
		WarningThreshold: cfg.Policy.WarningThreshold,
		MaxViolations:    cfg.Policy.MaxViolations,
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	engine := escalation.New(policy, led, deb, logger.Logger)

	sources := []capture.Source{
		capture.NewSpoolSource(cfg.Capture.SpoolDir, logger.Logger),
	}
	if cfg.Capture.DesktopSignals {
		sources = append(sources, capture.NewDesktopSource(logger.Logger))
	}
	monitor := capture.NewMonitor(capture.Config{
		DevtoolsDelta: cfg.Capture.DevtoolsDeltaPx,
		Buffer:        cfg.Capture.BufferSize,
	}, sources, logger.Logger)

	enforcer := fullscreen.New(fullscreen.Config{
		MaxRetries:      cfg.Fullscreen.MaxRetries,
		RetryDelay:      time.Duration(cfg.Fullscreen.RetryDelayMs) * time.Millisecond,
		DeniedTolerance: cfg.Fullscreen.DeniedTolerance,
	}, fullscreen.NewShimDriver(cfg.Fullscreen.CommandDir), engine, logger.Logger)

	var recon session.Reconciler
	if cfg.Server.BaseURL != "" {
		if credential == "" {
			return fmt.Errorf("server configured but %s is not set", cfg.Exam.CredentialEnv)
		}
		client, err := reconcile.New(reconcile.Config{
			BaseURL: cfg.Server.BaseURL,
			Timeout: time.Duration(cfg.Server.TimeoutSec) * time.Second,
		}, cfg.Exam.ExamID, credential, logger.Logger)
		if err != nil {
			return err
		}
		recon = client
	} else {
		logger.Warn("no exam server configured, running on local enforcement only")
	}

	var store *ledger.Store
	if cfg.Audit.Enabled {
		chainKey, err := ledger.DeriveChainKey(credential, sessionID)
		if err != nil {
			return err
		}
		store, err = ledger.OpenStore(cfg.Audit.Path, chainKey)
		if err != nil {
			return fmt.Errorf("opening audit store: %w", err)
		}
		defer store.Close()
	}

	controller := session.New(session.Config{
		ExamID:    cfg.Exam.ExamID,
		SessionID: sessionID,
		Duration:  time.Duration(cfg.Exam.DurationMinutes) * time.Minute,
	}, monitor, engine, led, enforcer, recon, store, logger.Logger)

	checker := health.NewChecker()
	checker.RegisterFunc("spool", true, health.CustomCheck(func() error {
		_, err := os.Stat(cfg.Capture.SpoolDir)
		return err
	}))
	if store != nil {
		checker.RegisterFunc("audit", true, health.CustomCheck(func() error {
			_, err := store.CountViolations(sessionID)
			return err
		}))
	}

	srv := newAPIServer(cfg.Daemon.ListenAddr, controller, store, checker, logger.Logger)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
		}
	}()

	if err := controller.Start(ctx); err != nil {
		srv.Close()
		return err
	}
	checker.SetReady(true)
	logger.Info("proctord running",
		"exam_id", cfg.Exam.ExamID,
		"session_id", sessionID,
		"listen_addr", cfg.Daemon.ListenAddr)

	summary := <-controller.Done()
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Daemon.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if summary.Status == "terminated" {
		os.Exit(2)
	}
	return nil
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = format
	logCfg.Output = cfg.Logging.Output
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	logCfg.MaxSize = cfg.Logging.MaxSizeMB
	logCfg.MaxAge = cfg.Logging.MaxAgeDays
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	logCfg.Compress = cfg.Logging.Compress

	return logging.New(logCfg)
}
