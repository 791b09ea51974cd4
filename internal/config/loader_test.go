package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.yaml", `
model:
  provider: openai
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Provider != "openai" {
		t.Errorf("provider = %q", cfg.Model.Provider)
	}
	if cfg.Server.HTTPPort != 8080 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Agent.MaxToolSteps != 10 || cfg.Agent.MaxExecutionTime != 5*time.Minute {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Scenario.MaxRecallAttempts != 5 || cfg.Scenario.MinPapers != 3 {
		t.Errorf("scenario defaults = %+v", cfg.Scenario)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.yaml", `
agent:
  max_execution_time: 300s
  max_video_execution_time: 20m
  idle_timeout: 45s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxExecutionTime != 5*time.Minute {
		t.Errorf("max_execution_time = %s", cfg.Agent.MaxExecutionTime)
	}
	if cfg.Agent.MaxVideoExecutionTime != 20*time.Minute {
		t.Errorf("max_video_execution_time = %s", cfg.Agent.MaxVideoExecutionTime)
	}
	if cfg.Agent.IdleTimeout != 45*time.Second {
		t.Errorf("idle_timeout = %s", cfg.Agent.IdleTimeout)
	}
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  host: 0.0.0.0
  http_port: 9000
logging:
  level: debug
`)
	path := writeFile(t, dir, "conductor.yaml", `
$include: base.yaml
server:
  http_port: 9100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// The including file wins; untouched keys come from the include.
	if cfg.Server.HTTPPort != 9100 {
		t.Errorf("http_port = %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q", cfg.Server.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("cycle error = %v", err)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://localhost/conductor")
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.yaml", `
database:
  driver: postgres
  url: ${TEST_DB_URL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/conductor" {
		t.Errorf("url = %q", cfg.Database.URL)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.yaml", `
modle:
  provider: openai
`)

	if _, err := Load(path); err == nil {
		t.Fatal("typo key accepted")
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "conductor.json5", `{
  // comments are allowed here
  model: {provider: "openai", max_tokens: 2048},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Provider != "openai" || cfg.Model.MaxTokens != 2048 {
		t.Errorf("model = %+v", cfg.Model)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	bad := Default()
	bad.Database.Driver = "oracle"
	if err := bad.Validate(); err == nil {
		t.Error("unknown driver accepted")
	}

	bad = Default()
	bad.Model.Provider = "bedrock"
	if err := bad.Validate(); err == nil {
		t.Error("unknown provider accepted")
	}

	bad = Default()
	bad.Agent.MaxToolSteps = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero step budget accepted")
	}

	bad = Default()
	bad.Agent.MaxVideoExecutionTime = time.Minute
	if err := bad.Validate(); err == nil {
		t.Error("video budget below base budget accepted")
	}

	bad = Default()
	bad.Logging.Format = "xml"
	if err := bad.Validate(); err == nil {
		t.Error("unknown log format accepted")
	}
}

func TestEnabledToolSet(t *testing.T) {
	cfg := Default()
	if cfg.EnabledToolSet() != nil {
		t.Error("empty filter should enable all tools")
	}
	cfg.Tools.Enabled = []string{"web_search", "video_probe"}
	set := cfg.EnabledToolSet()
	if !set["web_search"] || !set["video_probe"] || set["video_download"] {
		t.Errorf("set = %v", set)
	}
}
