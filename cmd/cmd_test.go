package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/metrics"
	"github.com/bourbonbuddy/tastecast/internal/server"
	"github.com/bourbonbuddy/tastecast/internal/version"
	"github.com/prometheus/client_golang/prometheus"
)

func TestFetchRooms(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(server.Options{PollWait: time.Second}, metrics.NewPrometheusCollector(prometheus.NewRegistry()), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	rooms, err := fetchRooms(context.Background(), ts.URL+"/")
	if err != nil {
		t.Fatalf("fetchRooms() error = %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("rooms = %v, want none", rooms)
	}

	if _, err := fetchRooms(context.Background(), ts.URL+"/missing"); err == nil {
		t.Fatal("fetchRooms() accepted a 404")
	}
}

func TestNewStreamName(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(server.Options{PollWait: time.Second}, metrics.NewPrometheusCollector(prometheus.NewRegistry()), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	name, err := newStreamName(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("newStreamName() error = %v", err)
	}
	if name == "" {
		t.Fatal("newStreamName() returned an empty name")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	if !strings.Contains(out.String(), version.Version) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestLoadConfigOnlyAppliesChangedBools(t *testing.T) {
	t.Setenv("TASTECAST_FORCE_POLLING", "true")

	cfg, err := loadConfig(rootCmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if !cfg.ForcePolling {
		t.Fatal("unset --force-polling overrode the environment")
	}

	if err := rootCmd.PersistentFlags().Set("force-polling", "false"); err != nil {
		t.Fatal(err)
	}
	defer func() {
		rootCmd.PersistentFlags().Lookup("force-polling").Changed = false
		flagForcePolling = false
	}()

	cfg, err = loadConfig(rootCmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.ForcePolling {
		t.Fatal("--force-polling=false did not override the environment")
	}
}

func TestReadLinesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lines := readLines(ctx, strings.NewReader("neat\nwith water\nrocks\n"))

	if got := <-lines; got != "neat" {
		t.Fatalf("first line = %q, want neat", got)
	}
	cancel()

	// Nobody reads the remaining lines; the reader must still close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("reader did not stop after cancel")
		}
	}
}

func TestReadLinesClosesAtEOF(t *testing.T) {
	var got []string
	for line := range readLines(context.Background(), strings.NewReader("a\nb")) {
		got = append(got, line)
	}
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("lines = %v, want [a b]", got)
	}
}
