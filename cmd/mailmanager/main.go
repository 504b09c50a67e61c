// Package main is the command line entry point for the mail manager. It
// sends the requests stored in JSON files, or lists recent activity for an
// address when -list is given.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/mail-manager/internal/config"
	"github.com/shineum/mail-manager/internal/email"
	"github.com/shineum/mail-manager/internal/manager"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	providerName := flag.String("provider", "", "provider to use: sendgrid, smtp, ses or stdout (overrides MAIL_PROVIDER)")
	listAddress := flag.String("list", "", "list recent activity for this address instead of sending")
	limit := flag.Int("limit", manager.DefaultListLimit, "maximum number of entries returned by -list")
	flag.Parse()

	src, err := loadSource(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(src)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	name := cfg.Provider
	if *providerName != "" {
		name = *providerName
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	m, err := manager.New(ctx, name, manager.WithSource(src), manager.WithLogger(slog.Default()))
	if err != nil {
		slog.Error("failed to create mail manager", "provider", name, "error", err)
		os.Exit(1)
	}

	if *listAddress != "" {
		if err := listActivity(ctx, m, *listAddress, *limit, os.Stdout); err != nil {
			slog.Error("failed to list emails", "address", *listAddress, "error", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: mailmanager [flags] request.json [request.json ...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	var reqs []*email.Request
	for _, path := range flag.Args() {
		r, err := readRequests(path)
		if err != nil {
			slog.Error("failed to read request file", "path", path, "error", err)
			os.Exit(1)
		}
		reqs = append(reqs, r...)
	}

	outcomes, err := m.SendEmails(ctx, reqs)
	for i, o := range outcomes {
		slog.Info("email dispatched",
			"index", i,
			"status", o.StatusCode,
			"message_id", o.MessageID,
			"failed", o.Failed(),
		)
	}
	if err != nil {
		var batchErr *manager.BatchError
		if errors.As(err, &batchErr) {
			slog.Error("some emails were not sent", "failed", batchErr.Failed, "total", batchErr.Total)
		} else {
			slog.Error("failed to send emails", "error", err)
		}
		os.Exit(1)
	}

	slog.Info("all emails sent", "provider", m.Provider().Name(), "count", len(outcomes))
}

// loadSource layers the process environment over the optional YAML file.
func loadSource(path string) (config.Source, error) {
	if path == "" {
		return config.Env(), nil
	}
	file, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return config.Layered{config.Env(), file}, nil
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// readRequests decodes a file holding either one request object or an
// array of them.
func readRequests(path string) ([]*email.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeRequests(data)
}

func decodeRequests(data []byte) ([]*email.Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty request file")
	}

	if trimmed[0] == '[' {
		var reqs []*email.Request
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, fmt.Errorf("invalid request list: %w", err)
		}
		return reqs, nil
	}

	var req email.Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return []*email.Request{&req}, nil
}

func listActivity(ctx context.Context, m *manager.Manager, address string, limit int, w io.Writer) error {
	activity, err := m.GetEmails(ctx, address, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(activity)
}
