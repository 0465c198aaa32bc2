package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"demobroker/internal/api"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Broker", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Broker:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Broker", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestStatusLinesWarnWithoutResolvers(t *testing.T) {
	lines := statusLines(api.StatusResponse{Running: true, PID: 42, Socket: "/tmp/cs-demo.sock"}, false)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "[WARN] None connected") {
		t.Fatalf("expected resolver warning, got:\n%s", joined)
	}
	if !strings.Contains(joined, "pid 42") {
		t.Fatalf("expected pid, got:\n%s", joined)
	}
}

func TestRenderLookupSources(t *testing.T) {
	cases := []struct {
		res  api.LookupResult
		want string
	}{
		{api.LookupResult{Key: "K", Value: "V"}, "resolver"},
		{api.LookupResult{Key: "K", Value: "V", Cached: true}, "cache"},
		{api.LookupResult{Key: "K", TimedOut: true}, "timeout"},
	}
	for _, tc := range cases {
		out := renderLookup("shareCode", "demoURL", tc.res)
		if !strings.Contains(out, tc.want) || !strings.Contains(out, "shareCode") {
			t.Fatalf("expected %q in\n%s", tc.want, out)
		}
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, nil)
	if !strings.Contains(out, "only") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
