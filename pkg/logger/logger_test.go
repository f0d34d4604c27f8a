package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNew_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("channel configured",
		"channel_secret", "whsec_1234567890abcdef",
		"webhook_secret", "also-secret",
		"url", "https://hooks.example.com/T123",
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}

	if record["channel_secret"] != "[REDACTED]" {
		t.Errorf("channel_secret not redacted: %v", record["channel_secret"])
	}
	if record["webhook_secret"] != "[REDACTED]" {
		t.Errorf("webhook_secret not redacted: %v", record["webhook_secret"])
	}
	if record["url"] != "https://hooks.example.com/T123" {
		t.Errorf("url should not be redacted: %v", record["url"])
	}
}

func TestNew_RedactsComposedKeys(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("db connected", "postgres_db_password", "hunter2")

	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Error("composed sensitive key leaked")
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Error("secret value leaked in output")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithContext_PicksUpRequestScope(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	ctx := context.WithValue(context.Background(), ContextKeyRequestID, "req-1")
	ctx = context.WithValue(ctx, ContextKeyOrgID, "org-1")

	log.WithContext(ctx).Info("scan enqueued")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-1"`) {
		t.Errorf("request_id missing: %s", out)
	}
	if !strings.Contains(out, `"org_id":"org-1"`) {
		t.Errorf("org_id missing: %s", out)
	}
}

func TestSamplingHandler_Threshold(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSamplingHandler(slog.NewJSONHandler(&buf, nil), SamplingConfig{
		Enabled:   true,
		Tick:      time.Minute, // long tick so counters do not reset mid-test
		Threshold: 10,
		Rate:      0.0,
		ErrorRate: 1.0,
	})
	log := slog.New(handler)

	for i := 0; i < 100; i++ {
		log.Info("module completed")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("expected 10 lines at threshold, got %d", len(lines))
	}
}

func TestSamplingHandler_ErrorsBypassRate(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSamplingHandler(slog.NewJSONHandler(&buf, nil), SamplingConfig{
		Enabled:   true,
		Tick:      time.Minute,
		Threshold: 5,
		Rate:      0.0,
		ErrorRate: 1.0,
	})
	log := slog.New(handler)

	for i := 0; i < 50; i++ {
		log.Info("progress published")
	}
	for i := 0; i < 50; i++ {
		log.Error("delivery failed")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 55 {
		t.Errorf("expected 5 info + 50 error lines, got %d", len(lines))
	}
}

func TestSamplingHandler_NeverSamplePrefix(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSamplingHandler(slog.NewJSONHandler(&buf, nil), SamplingConfig{
		Enabled:             true,
		Tick:                time.Minute,
		Threshold:           1,
		Rate:                0.0,
		ErrorRate:           0.0,
		NeverSampleMessages: []string{"audit:"},
	})
	log := slog.New(handler)

	for i := 0; i < 20; i++ {
		log.Info("audit: scan cancelled")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Errorf("expected all 20 audit lines, got %d", len(lines))
	}
}

func TestSamplingHandler_Disabled(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	if got := NewSamplingHandler(base, SamplingConfig{}); got != base {
		t.Error("disabled sampling should return the base handler unchanged")
	}
}

func TestSamplingHandler_MetricsCountDrops(t *testing.T) {
	RegisterMetrics(nil)

	var buf bytes.Buffer
	handler := NewSamplingHandler(slog.NewJSONHandler(&buf, nil), SamplingConfig{
		Enabled:       true,
		Tick:          time.Minute,
		Threshold:     2,
		Rate:          0.0,
		ErrorRate:     1.0,
		EnableMetrics: true,
	})
	log := slog.New(handler)

	before := DroppedTotal("info")
	for i := 0; i < 10; i++ {
		log.Info("checkpoint persisted")
	}

	if got := DroppedTotal("info") - before; got != 8 {
		t.Errorf("expected 8 dropped info records past the threshold, got %v", got)
	}
}
