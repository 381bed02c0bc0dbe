// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/money"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
)

type Config struct {
	Port string

	StoreBackend string
	SQLitePath   string
	BQProjectID  string
	BQDataset    string

	GCSBucket string

	// GeminiModel and StatementBank tune PDF extraction.
	GeminiModel   string
	StatementBank string

	NotionToken     string
	NotionAuditDBID string

	LogLevel  string
	LogFormat string

	AmountLocale     money.Locale
	BalanceTolerance decimal.Decimal
	Flows            map[domain.ReconciliationType]domain.Flow

	NoRuleFallbackClassification string
}

// LoadDotEnv loads a .env file into the environment when one exists.
// Variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading .env file: %w", err)
	}
	return nil
}

// Load reads the configuration from the environment. Every invalid value is
// reported, not just the first.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:                         get("PORT", "8080"),
		StoreBackend:                 strings.ToLower(get("STORE_BACKEND", BackendMemory)),
		SQLitePath:                   get("SQLITE_PATH", "reconciler.db"),
		BQProjectID:                  get("BQ_PROJECT_ID", ""),
		BQDataset:                    get("BQ_DATASET", "reconciliation"),
		GCSBucket:                    get("GCS_BUCKET", ""),
		GeminiModel:                  get("GEMINI_MODEL", ""),
		StatementBank:                get("STATEMENT_BANK", ""),
		NotionToken:                  get("NOTION_TOKEN", ""),
		NotionAuditDBID:              get("NOTION_AUDIT_DB_ID", ""),
		LogLevel:                     get("LOG_LEVEL", "info"),
		LogFormat:                    get("LOG_FORMAT", "json"),
		NoRuleFallbackClassification: get("NO_RULE_FALLBACK_CLASSIFICATION", ""),
		Flows:                        domain.DefaultFlows(),
	}

	var errs []error

	switch cfg.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendBigQuery:
		if cfg.BQProjectID == "" {
			errs = append(errs, errors.New("BQ_PROJECT_ID is required for the bigquery backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", cfg.StoreBackend))
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT: %q is not a number", cfg.Port))
	}

	locale, err := money.ParseLocale(get("AMOUNT_LOCALE", string(money.LocaleAuto)))
	if err != nil {
		errs = append(errs, fmt.Errorf("AMOUNT_LOCALE: %w", err))
	}
	cfg.AmountLocale = locale

	tol, err := decimal.NewFromString(get("BALANCE_TOLERANCE", "0.01"))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("BALANCE_TOLERANCE: %w", err))
	case tol.IsNegative():
		errs = append(errs, fmt.Errorf("BALANCE_TOLERANCE: must not be negative, got %s", tol))
	default:
		cfg.BalanceTolerance = tol
	}

	for t, flow := range cfg.Flows {
		key := "WINDOW_DAYS_" + strings.ToUpper(string(t))
		raw := get(key, "")
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%s: want a non-negative integer, got %q", key, raw))
			continue
		}
		flow.WindowDays = n
		cfg.Flows[t] = flow
	}

	if (cfg.NotionToken == "") != (cfg.NotionAuditDBID == "") {
		errs = append(errs, errors.New("NOTION_TOKEN and NOTION_AUDIT_DB_ID must be set together"))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// NotionEnabled reports whether audit export is configured.
func (c *Config) NotionEnabled() bool {
	return c.NotionToken != "" && c.NotionAuditDBID != ""
}
