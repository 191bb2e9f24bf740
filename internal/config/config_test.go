package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_DRIVER", "DATABASE_DSN", "BILLING_CONCURRENCY", "BILLING_CRON", "BILLING_RUN_UNIQUE_TTL"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Billing.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Billing.Concurrency)
	}
	if cfg.Billing.Cron != "0 3 * * *" {
		t.Errorf("Cron = %q", cfg.Billing.Cron)
	}
	if cfg.Billing.RunUniqueTTL != time.Hour {
		t.Errorf("RunUniqueTTL = %s, want 1h", cfg.Billing.RunUniqueTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BILLING_CONCURRENCY", "8")
	t.Setenv("BILLING_RUN_UNIQUE_TTL", "15m")
	t.Setenv("WORKER", "yes")
	t.Setenv("DATABASE_DSN", "postgres://u:p@db:5432/x")
	cfg := Load()
	if cfg.Billing.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Billing.Concurrency)
	}
	if cfg.Billing.RunUniqueTTL != 15*time.Minute {
		t.Errorf("RunUniqueTTL = %s", cfg.Billing.RunUniqueTTL)
	}
	if !cfg.App.Worker {
		t.Error("Worker should be enabled")
	}
	if cfg.Database.DSN() != "postgres://u:p@db:5432/x" {
		t.Errorf("DSN() = %q", cfg.Database.DSN())
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	if got, want := d.DSN(), "host=h port=5432 user=u password=p dbname=n sslmode=disable"; got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
	if got, want := d.URL(), "postgres://u:p@h:5432/n?sslmode=disable"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestBillingLocation(t *testing.T) {
	if loc := (BillingConfig{Timezone: "Nowhere/Invalid"}).Location(); loc != time.UTC {
		t.Errorf("invalid zone should fall back to UTC, got %s", loc)
	}
	if loc := (BillingConfig{}).Location(); loc != time.UTC {
		t.Errorf("empty zone should be UTC, got %s", loc)
	}
}
