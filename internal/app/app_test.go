package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/service"
)

func TestNewAssignsDependenciesAndTimeout(t *testing.T) {
	cfg := &config.Config{ShutdownTimeout: 10 * time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}

	a := New(cfg, logger, server, nil, nil)
	if a.Config != cfg || a.Logger != logger || a.Server != server {
		t.Fatal("expected app dependencies to be assigned")
	}
	if a.ShutdownTimeout != cfg.ShutdownTimeout {
		t.Fatalf("expected shutdown timeout copied from config, got %s", a.ShutdownTimeout)
	}

	a = New(&config.Config{}, nil, server, nil, nil)
	if a.ShutdownTimeout != 15*time.Second || a.Logger == nil {
		t.Fatalf("expected defaults, got timeout=%s logger=%v", a.ShutdownTimeout, a.Logger)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: "127.0.0.1:0", ReadHeaderTimeout: time.Second}
	cleanup := service.NewCleanupService(nil, nil, config.DefaultTokenPolicy(), nil, logger)
	scheduler := service.NewCleanupScheduler(cleanup, nil, service.CleanupSchedulerConfig{
		SweepInterval: time.Hour,
		TrimInterval:  time.Hour,
	}, logger)
	a := New(&config.Config{ShutdownTimeout: time.Second}, logger, server, scheduler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
}
