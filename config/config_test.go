package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.DefaultConnection != "default" {
		t.Errorf("default connection name = %q", cfg.DefaultConnection)
	}
	if cfg.Consumer.MaxRedeliveries != 5 {
		t.Errorf("MaxRedeliveries = %d, want 5", cfg.Consumer.MaxRedeliveries)
	}
	if cfg.Consumer.NakDelay != 5*time.Second {
		t.Errorf("NakDelay = %v, want 5s", cfg.Consumer.NakDelay)
	}
	if !cfg.Consumer.EnableDlq || cfg.Consumer.DlqStreamSuffix != "-dlq" {
		t.Errorf("DLQ defaults wrong: %+v", cfg.Consumer)
	}
	if cfg.Resilience.MaxRetryAttempts != 3 || cfg.Resilience.BaseDelay != time.Second {
		t.Errorf("resilience defaults wrong: %+v", cfg.Resilience)
	}
	if cfg.Resilience.FailureRatio != 0.5 || cfg.Resilience.MinimumThroughput != 10 {
		t.Errorf("breaker defaults wrong: %+v", cfg.Resilience)
	}
	if cfg.Outbox.BatchSize != 100 || cfg.Outbox.ProcessingInterval != 5*time.Second {
		t.Errorf("outbox defaults wrong: %+v", cfg.Outbox)
	}
	if cfg.Outbox.RetentionPeriod != 7*24*time.Hour {
		t.Errorf("retention period = %v, want 168h", cfg.Outbox.RetentionPeriod)
	}
	if cfg.Cache.BucketName != "cache" || cfg.Cache.DefaultTTL != time.Hour {
		t.Errorf("cache defaults wrong: %+v", cfg.Cache)
	}
	if cfg.Blob.BucketName != "blobs" {
		t.Errorf("blob bucket = %q, want blobs", cfg.Blob.BucketName)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MESSAGING_NATS_URL", "nats://broker:4222")
	t.Setenv("MESSAGING_CONSUMER_MAX_REDELIVERIES", "3")
	t.Setenv("MESSAGING_CONSUMER_NAK_DELAY", "250ms")
	t.Setenv("MESSAGING_OUTBOX_RETENTION_ENABLED", "false")
	// Bare integers are seconds.
	t.Setenv("MESSAGING_OUTBOX_PROCESSING_INTERVAL", "10")

	cfg := Load()

	cc, ok := cfg.Connection("")
	if !ok || cc.URL != "nats://broker:4222" {
		t.Errorf("default connection = %+v, ok=%v", cc, ok)
	}
	if cfg.Consumer.MaxRedeliveries != 3 {
		t.Errorf("MaxRedeliveries = %d, want 3", cfg.Consumer.MaxRedeliveries)
	}
	if cfg.Consumer.NakDelay != 250*time.Millisecond {
		t.Errorf("NakDelay = %v, want 250ms", cfg.Consumer.NakDelay)
	}
	if cfg.Outbox.RetentionEnabled {
		t.Error("retention should be disabled")
	}
	if cfg.Outbox.ProcessingInterval != 10*time.Second {
		t.Errorf("interval = %v, want 10s", cfg.Outbox.ProcessingInterval)
	}
}

func TestConnectionLookup(t *testing.T) {
	cfg := Load()
	cfg.Connections["billing"] = ConnectionConfig{URL: "nats://billing:4222"}

	if _, ok := cfg.Connection("billing"); !ok {
		t.Error("registered connection should resolve")
	}
	if _, ok := cfg.Connection("nope"); ok {
		t.Error("unknown connection must not resolve")
	}
}
