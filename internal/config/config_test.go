package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("chatbi-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Warehouse.Kind != "postgres" {
		t.Fatalf("Warehouse.Kind = %q", cfg.Warehouse.Kind)
	}
	if cfg.Warehouse.MaxOpenConns != 20 {
		t.Fatalf("Warehouse.MaxOpenConns = %d", cfg.Warehouse.MaxOpenConns)
	}
	if cfg.AI.Enabled {
		t.Fatal("AI.Enabled should default to false")
	}
	if cfg.AI.Model != "qwen-plus" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.Pipeline.RowCap != 200 {
		t.Fatalf("Pipeline.RowCap = %d", cfg.Pipeline.RowCap)
	}
	if cfg.Pipeline.SmallN != 20 {
		t.Fatalf("Pipeline.SmallN = %d", cfg.Pipeline.SmallN)
	}
	if cfg.Pipeline.SchemaTTL != 5*time.Minute {
		t.Fatalf("Pipeline.SchemaTTL = %s", cfg.Pipeline.SchemaTTL)
	}
	if cfg.Pipeline.HistoryLimit != 100 {
		t.Fatalf("Pipeline.HistoryLimit = %d", cfg.Pipeline.HistoryLimit)
	}
	if !cfg.Pipeline.Narrative {
		t.Fatal("Pipeline.Narrative should default to true")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"CHATBI_PROFILE": "prod"})
	cfg, err := Load("chatbi-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"CHATBI_PROFILE":                  "test",
		"CHATBI_SERVICE_NAME":             "chatbi-custom",
		"CHATBI_HTTP_ADDR":                ":9999",
		"CHATBI_HTTP_READ_TIMEOUT":        "2s",
		"CHATBI_HTTP_WRITE_TIMEOUT":       "3s",
		"CHATBI_LOG_LEVEL":                "error",
		"CHATBI_AUTH_REQUIRED":            "true",
		"CHATBI_AUTH_STATIC_KEYS":         "k1:t1:query_reader",
		"CHATBI_WAREHOUSE_KIND":           "mysql",
		"CHATBI_WAREHOUSE_DSN":            "user:pass@tcp(localhost:3306)/sales",
		"CHATBI_WAREHOUSE_DATABASE":       "sales",
		"CHATBI_WAREHOUSE_MAX_OPEN_CONNS": "42",
		"CHATBI_WAREHOUSE_MAX_IDLE_CONNS": "17",
		"CHATBI_AI_ENABLED":               "true",
		"CHATBI_AI_BASE_URL":              "https://api.example.com",
		"CHATBI_AI_API_KEY":               "secret-key",
		"CHATBI_AI_MODEL":                 "qwen-max",
		"CHATBI_AI_TEMPERATURE":           "0.3",
		"CHATBI_AI_TIMEOUT":               "21s",
		"CHATBI_AI_MAX_TOKENS":            "2048",
		"CHATBI_PIPELINE_ROW_CAP":         "500",
		"CHATBI_PIPELINE_SMALL_N":         "12",
		"CHATBI_PIPELINE_PROMPT_BYTES":    "8192",
		"CHATBI_PIPELINE_HISTORY_TURNS":   "5",
		"CHATBI_PIPELINE_HISTORY_LIMIT":   "50",
		"CHATBI_PIPELINE_SCHEMA_TTL":      "90s",
		"CHATBI_PIPELINE_QUERY_TIMEOUT":   "11s",
		"CHATBI_PIPELINE_QUERY_RETRIES":   "4",
		"CHATBI_PIPELINE_RETRY_BACKOFF":   "900ms",
		"CHATBI_PIPELINE_REQUEST_TIMEOUT": "2m",
		"CHATBI_PIPELINE_NARRATIVE":       "false",
	})
	cfg, err := Load("chatbi-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "chatbi-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Auth.StaticKeys != "k1:t1:query_reader" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.Warehouse.Kind != "mysql" {
		t.Fatalf("Warehouse.Kind = %q", cfg.Warehouse.Kind)
	}
	if cfg.Warehouse.DSN != "user:pass@tcp(localhost:3306)/sales" {
		t.Fatalf("Warehouse.DSN = %q", cfg.Warehouse.DSN)
	}
	if cfg.Warehouse.Database != "sales" {
		t.Fatalf("Warehouse.Database = %q", cfg.Warehouse.Database)
	}
	if cfg.Warehouse.MaxOpenConns != 42 {
		t.Fatalf("Warehouse.MaxOpenConns = %d", cfg.Warehouse.MaxOpenConns)
	}
	if cfg.Warehouse.MaxIdleConns != 17 {
		t.Fatalf("Warehouse.MaxIdleConns = %d", cfg.Warehouse.MaxIdleConns)
	}
	if !cfg.AI.Enabled {
		t.Fatal("AI.Enabled = false, want true")
	}
	if cfg.AI.BaseURL != "https://api.example.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "qwen-max" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxTokens != 2048 {
		t.Fatalf("AI.MaxTokens = %d", cfg.AI.MaxTokens)
	}
	if cfg.Pipeline.RowCap != 500 {
		t.Fatalf("Pipeline.RowCap = %d", cfg.Pipeline.RowCap)
	}
	if cfg.Pipeline.SmallN != 12 {
		t.Fatalf("Pipeline.SmallN = %d", cfg.Pipeline.SmallN)
	}
	if cfg.Pipeline.PromptBytes != 8192 {
		t.Fatalf("Pipeline.PromptBytes = %d", cfg.Pipeline.PromptBytes)
	}
	if cfg.Pipeline.HistoryTurns != 5 {
		t.Fatalf("Pipeline.HistoryTurns = %d", cfg.Pipeline.HistoryTurns)
	}
	if cfg.Pipeline.HistoryLimit != 50 {
		t.Fatalf("Pipeline.HistoryLimit = %d", cfg.Pipeline.HistoryLimit)
	}
	if cfg.Pipeline.SchemaTTL != 90*time.Second {
		t.Fatalf("Pipeline.SchemaTTL = %s", cfg.Pipeline.SchemaTTL)
	}
	if cfg.Pipeline.QueryTimeout != 11*time.Second {
		t.Fatalf("Pipeline.QueryTimeout = %s", cfg.Pipeline.QueryTimeout)
	}
	if cfg.Pipeline.QueryRetries != 4 {
		t.Fatalf("Pipeline.QueryRetries = %d", cfg.Pipeline.QueryRetries)
	}
	if cfg.Pipeline.RetryBackoff != 900*time.Millisecond {
		t.Fatalf("Pipeline.RetryBackoff = %s", cfg.Pipeline.RetryBackoff)
	}
	if cfg.Pipeline.RequestTimeout != 2*time.Minute {
		t.Fatalf("Pipeline.RequestTimeout = %s", cfg.Pipeline.RequestTimeout)
	}
	if cfg.Pipeline.Narrative {
		t.Fatal("Pipeline.Narrative = true, want false")
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"CHATBI_PROFILE": "oops"},
		{"CHATBI_HTTP_READ_TIMEOUT": "NaN"},
		{"CHATBI_WAREHOUSE_MAX_OPEN_CONNS": "oops"},
		{"CHATBI_PIPELINE_ROW_CAP": "oops"},
		{"CHATBI_PIPELINE_SCHEMA_TTL": "oops"},
		{"CHATBI_AI_TEMPERATURE": "bad"},
		{"CHATBI_AUTH_REQUIRED": "not-bool"},
		{"CHATBI_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("chatbi-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadRequiresAPIKeyWhenEnabled(t *testing.T) {
	_, err := Load("chatbi-api", mapLookup(map[string]string{"CHATBI_AI_ENABLED": "true"}))
	if err == nil {
		t.Fatal("Load() expected error when ai enabled without api key")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
