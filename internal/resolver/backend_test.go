package resolver_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"demobroker/internal/config"
	"demobroker/internal/resolver"
)

func TestExecBackendReturnsFirstLine(t *testing.T) {
	backend := resolver.NewExecBackend("sh", "-c", `printf '\nhttp://x/%s.dem\nextra\n' "$1"`, "resolver")
	value, ok, err := backend.Resolve(context.Background(), "CSGO-EXEC")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !ok || value != "http://x/CSGO-EXEC.dem" {
		t.Fatalf("unexpected result: %q ok=%v", value, ok)
	}
}

func TestExecBackendEmptyOutputMeansNoAnswer(t *testing.T) {
	backend := resolver.NewExecBackend("sh", "-c", "true", "resolver")
	value, ok, err := backend.Resolve(context.Background(), "CSGO-NONE")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if ok || value != "" {
		t.Fatalf("expected no answer, got %q ok=%v", value, ok)
	}
}

func TestExecBackendReportsFailure(t *testing.T) {
	backend := resolver.NewExecBackend("sh", "-c", "echo denied >&2; exit 3", "resolver")
	_, ok, err := backend.Resolve(context.Background(), "CSGO-FAIL")
	if err == nil || ok {
		t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
	}
	if got := err.Error(); !strings.Contains(got, "denied") {
		t.Fatalf("expected stderr in error, got %q", got)
	}
}

func TestExecBackendHonorsDeadline(t *testing.T) {
	backend := resolver.NewExecBackend("sh", "-c", "exec sleep 5", "resolver")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := backend.Resolve(ctx, "CSGO-SLOW")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestStaticBackend(t *testing.T) {
	backend := resolver.NewStaticBackend(map[string]string{"CSGO-1": "http://x/1.dem", "CSGO-2": " "})
	if value, ok, _ := backend.Resolve(context.Background(), "CSGO-1"); !ok || value != "http://x/1.dem" {
		t.Fatalf("unexpected static answer: %q ok=%v", value, ok)
	}
	if _, ok, _ := backend.Resolve(context.Background(), "CSGO-2"); ok {
		t.Fatal("blank static values should not answer")
	}
	if _, ok, _ := backend.Resolve(context.Background(), "CSGO-3"); ok {
		t.Fatal("missing key should not answer")
	}
}

func TestNewBackendSelectsByConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Resolver.Backend = config.BackendStatic
	cfg.Resolver.Static = map[string]string{"k": "v"}
	backend, err := resolver.NewBackend(&cfg)
	if err != nil {
		t.Fatalf("NewBackend returned error: %v", err)
	}
	if _, ok := backend.(*resolver.StaticBackend); !ok {
		t.Fatalf("expected static backend, got %T", backend)
	}

	cfg.Resolver.Backend = config.BackendExec
	cfg.Resolver.Command = "helper"
	backend, err = resolver.NewBackend(&cfg)
	if err != nil {
		t.Fatalf("NewBackend returned error: %v", err)
	}
	if _, ok := backend.(*resolver.ExecBackend); !ok {
		t.Fatalf("expected exec backend, got %T", backend)
	}

	cfg.Resolver.Backend = "telepathy"
	if _, err := resolver.NewBackend(&cfg); !errors.Is(err, resolver.ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}
