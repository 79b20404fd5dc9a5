// Command restockd is the availability monitoring daemon.
//
// Usage:
//
//	restockd -config restockd.yaml              # run the watch loop
//	restockd -config restockd.yaml -log-level debug
//
// The vault passphrase comes from RESTOCKD_PASSPHRASE; when unset and a
// secret store exists, restockd prompts for it once at startup so a bad
// passphrase fails fast instead of hours into a run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "modernc.org/sqlite"

	"golang.org/x/term"

	"github.com/restockd/restockd/browser"
	"github.com/restockd/restockd/config"
	"github.com/restockd/restockd/engine"
	"github.com/restockd/restockd/history"
	"github.com/restockd/restockd/notify"
	"github.com/restockd/restockd/secrets"
	"github.com/restockd/restockd/web"
)

func main() {
	configPath := flag.String("config", "", "path to restockd.yaml config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: restockd -config <file> [-log-level debug|info|warn|error]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("restockd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := unlockSecrets(cfg, logger); err != nil {
		return err
	}

	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer hist.Close()

	var sinks []notify.Sink
	sinks = append(sinks, notify.NewStdout(nil))
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.Notify.WebhookURL,
			notify.WithWebhookLogger(logger)))
	}
	router := notify.NewRouter(logger, sinks...)
	defer router.Close()

	driver := browser.New(browser.Config{
		Remote:     cfg.Browser.Remote,
		NavTimeout: cfg.Browser.NavTimeout,
		Proxy:      cfg.Browser.Proxy,
		Logger:     logger,
	})
	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}

	eng := engine.New(engine.Config{
		Targets:        cfg.Targets,
		PollInterval:   cfg.Poll.Interval,
		PollJitter:     cfg.Poll.Jitter,
		RotateEvery:    cfg.Poll.RotateEvery,
		CooldownBase:   cfg.Cooldown.Base,
		RetryThreshold: cfg.Cooldown.RetryThreshold,
		CooldownMax:    cfg.Cooldown.Max,
		NotifyCooldown: cfg.Notify.Cooldown,
		DigestHour:     cfg.Digest.Hour,
		DigestLocation: cfg.DigestLocation(),
		Logger:         logger,
	}, driver, router, hist)

	if cfg.Web.Addr != "" {
		srv := web.New(cfg.Web.Addr, eng, hist, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("restockd: status server", "error", err)
			}
		}()
	}

	logger.Info("restockd: starting", "targets", len(cfg.Targets),
		"interval", cfg.Poll.Interval.String(), "history", cfg.HistoryPath())

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("restockd: stopped")
	return nil
}

// unlockSecrets verifies the vault passphrase against an existing
// secret store. A missing store is fine; a store that exists but cannot
// be opened is a startup failure.
func unlockSecrets(cfg *config.Config, logger *slog.Logger) error {
	storePath := filepath.Join(cfg.Store.Dir, "accounts.vault")
	if _, err := os.Stat(storePath); err != nil {
		return nil
	}

	if cfg.Passphrase == "" {
		pass, err := promptPassphrase("Vault passphrase: ")
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		cfg.Passphrase = pass
	}

	store := secrets.New(cfg.Store.Dir, cfg.Passphrase)
	accounts, err := store.Load()
	if err != nil {
		return fmt.Errorf("unlock secret store: %w", err)
	}
	logger.Info("restockd: secret store unlocked", "accounts", len(accounts))
	return nil
}

func promptPassphrase(prompt string) (string, error) {
	if !term.IsTerminal(syscall.Stdin) {
		return "", errors.New("stdin is not a terminal and RESTOCKD_PASSPHRASE is unset")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
