package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/lucasew/photosync"
)

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	err := printStats(&buf, photosync.Stats{
		Entries:     3,
		Indexed:     1200,
		TotalBytes:  512 << 20,
		MaxBytes:    1 << 30,
		Utilization: 0.5,
		Hits:        10,
	})
	if err != nil {
		t.Fatalf("printStats failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"1,200", "512 MiB / 1.0 GiB (50.0%)", "Hits:"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	// Unknown values fall back instead of failing.
	setupLogger("verbose", "xml")
	setupLogger("debug", "json")
	setupLogger("info", "text")
}
