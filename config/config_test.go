package config

import (
	"errors"
	"testing"
	"time"
)

const minimal = `
targets:
  - https://shop.example/widget
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Poll.Interval != 45*time.Second {
		t.Errorf("interval: %v", cfg.Poll.Interval)
	}
	if cfg.Poll.RotateEvery != 10 {
		t.Errorf("rotate_every: %d", cfg.Poll.RotateEvery)
	}
	if cfg.Cooldown.Base != time.Minute || cfg.Cooldown.Max != 30*time.Minute {
		t.Errorf("cooldown defaults: %+v", cfg.Cooldown)
	}
	if cfg.Cooldown.RetryThreshold != 3 {
		t.Errorf("retry_threshold: %d", cfg.Cooldown.RetryThreshold)
	}
	if cfg.Notify.Cooldown != 30*time.Minute {
		t.Errorf("notify cooldown: %v", cfg.Notify.Cooldown)
	}
	if cfg.Digest.Timezone != "UTC" {
		t.Errorf("timezone: %s", cfg.Digest.Timezone)
	}
	if cfg.Store.Dir == "" || cfg.Store.History == "" {
		t.Errorf("store defaults: %+v", cfg.Store)
	}
}

func TestParse_FullFile(t *testing.T) {
	cfg, err := Parse([]byte(`
targets:
  - https://shop.example/a
  - https://shop.example/b
poll:
  interval: 90s
  jitter: 20s
  rotate_every: 5
cooldown:
  base: 2m
  retry_threshold: 2
  max: 20m
notify:
  webhook_url: https://hooks.example/xyz
  cooldown: 1h
digest:
  hour: 21
  timezone: Europe/Paris
browser:
  nav_timeout: 45s
  proxy: proxy.example:3128
store:
  dir: /tmp/restockd-test
web:
  addr: 127.0.0.1:8718
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Poll.Interval != 90*time.Second || cfg.Poll.RotateEvery != 5 {
		t.Errorf("poll: %+v", cfg.Poll)
	}
	if cfg.Cooldown.Max != 20*time.Minute {
		t.Errorf("cooldown: %+v", cfg.Cooldown)
	}
	if cfg.Digest.Hour != 21 || cfg.Digest.Timezone != "Europe/Paris" {
		t.Errorf("digest: %+v", cfg.Digest)
	}
	if cfg.HistoryPath() != "/tmp/restockd-test/restock-history.db" {
		t.Errorf("history path: %s", cfg.HistoryPath())
	}
	if cfg.DigestLocation().String() != "Europe/Paris" {
		t.Errorf("location: %s", cfg.DigestLocation())
	}
}

func TestParse_EnvOverlay(t *testing.T) {
	t.Setenv("RESTOCKD_PASSPHRASE", "from-env")
	t.Setenv("RESTOCKD_WEBHOOK_URL", "https://hooks.example/env")

	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Passphrase != "from-env" {
		t.Errorf("passphrase: %q", cfg.Passphrase)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example/env" {
		t.Errorf("webhook: %q", cfg.Notify.WebhookURL)
	}
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name  string
		yaml  string
		field string
	}{
		{"no targets", `targets: []`, "targets"},
		{"bad target", "targets: [\"ftp://x\"]", "targets"},
		{"relative target", "targets: [\"/just/a/path\"]", "targets"},
		{"max below base", "targets: [\"https://a.example\"]\ncooldown: {base: 10m, max: 5m}", "cooldown.max"},
		{"max above cap", "targets: [\"https://a.example\"]\ncooldown: {max: 45m}", "cooldown.max"},
		{"bad hour", "targets: [\"https://a.example\"]\ndigest: {hour: 24}", "digest.hour"},
		{"bad timezone", "targets: [\"https://a.example\"]\ndigest: {timezone: Mars/Olympus}", "digest.timezone"},
		{"bad webhook", "targets: [\"https://a.example\"]\nnotify: {webhook_url: \"not a url\"}", "notify.webhook_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("field: got %s, want %s", verr.Field, tc.field)
			}
		})
	}
}
