package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIncludesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "llm.yaml", `
llm:
  providers:
    - name: "openai"
      api_key: "sk-from-include"
      model: "gpt-4o-mini"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "llm.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].APIKey != "sk-from-include" {
		t.Errorf("provider not loaded from include: %+v", cfg.LLM.Providers)
	}
}

func TestIncludesAgentsDirectoryMergesByName(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "agents.d")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, sub, "billing.yaml", `
agents:
  - name: "billing"
    description: "Invoices and refunds"
    max_steps: 1
`)
	writeConfigFile(t, sub, "support.yaml", `
agents:
  - name: "support"
    description: "from include"
    max_steps: 1
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "agents.d/*.yaml"
agents:
  - name: "support"
    description: "from main"
    max_steps: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	byName := map[string]AgentConfig{}
	for _, a := range cfg.Agents {
		byName[a.Name] = a
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %+v", cfg.Agents)
	}
	if byName["support"].Description != "from main" {
		t.Errorf("support.Description = %q, want main file to win", byName["support"].Description)
	}
	if byName["billing"].Description != "Invoices and refunds" {
		t.Errorf("billing agent missing: %+v", cfg.Agents)
	}
	if cfg.Agents[0].Name != "support" {
		t.Errorf("main file agents should keep their position, got %q first", cfg.Agents[0].Name)
	}
}

func TestIncludesMainPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "override.yaml", `
logger:
  level: "warn"
  format: "text"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "override.yaml"
logger:
  level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug (main should win)", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" {
		t.Errorf("Logger.Format = %q, want %q", cfg.Logger.Format, "text")
	}
}

func TestIncludesCircularDetection(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "includes:\n  - \"b.yaml\"\n")
	writeConfigFile(t, dir, "b.yaml", "includes:\n  - \"a.yaml\"\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"a.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular include") {
		t.Fatalf("expected circular include error, got %v", err)
	}
}

func TestIncludesSelfReference(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"config.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular include") {
		t.Fatalf("expected circular include error, got %v", err)
	}
}

func TestIncludesPathTraversal(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"../../../etc/passwd\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes config directory") {
		t.Fatalf("expected traversal error, got %v", err)
	}
}

func TestIncludesFilePermissions(t *testing.T) {
	dir := t.TempDir()
	badFile := filepath.Join(dir, "insecure.yaml")
	if err := os.WriteFile(badFile, []byte("logger:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(badFile, 0o666); err != nil {
		t.Fatal(err)
	}
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"insecure.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected permissions error, got %v", err)
	}
}

func TestIncludesFileNotFound(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"nonexistent.yaml\"\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing include file")
	}
}

func TestIncludesEmptyGlobIsFine(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"agents.d/*.yaml\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Agents) != 2 {
		t.Errorf("default agents should survive, got %d", len(cfg.Agents))
	}
}

func TestIncludesInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "bad.yaml", "invalid: [yaml: bad")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"bad.yaml\"\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML in include")
	}
}

func TestIncludesNestedIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "level2.yaml", `
logger:
  format: "text"
  level: "error"
`)
	writeConfigFile(t, dir, "level1.yaml", `
includes:
  - "level2.yaml"
logger:
  level: "debug"
`)
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"level1.yaml\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Format != "text" {
		t.Errorf("Logger.Format = %q, want %q (from nested include)", cfg.Logger.Format, "text")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want level1 to win over level2", cfg.Logger.Level)
	}
}

func TestIncludesMaxDepth(t *testing.T) {
	dir := t.TempDir()

	totalLevels := maxIncludeDepth + 2
	for i := totalLevels; i >= 1; i-- {
		var content string
		if i < totalLevels {
			content = fmt.Sprintf("includes:\n  - %q\n", fmt.Sprintf("level%d.yaml", i+1))
		}
		writeConfigFile(t, dir, fmt.Sprintf("level%d.yaml", i), content)
	}
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"level1.yaml\"\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "max depth") {
		t.Fatalf("expected max depth error, got %v", err)
	}
}

func TestIncludesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "empty.yaml", "")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - \"empty.yaml\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("defaults should remain intact, Logger.Level = %q", cfg.Logger.Level)
	}
}

func TestMergeAgents(t *testing.T) {
	base := []AgentConfig{{Name: "a", Description: "1"}, {Name: "b", Description: "1"}}
	got := mergeAgents(base, []AgentConfig{{Name: "b", Description: "2"}, {Name: "c", Description: "2"}})

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[1].Description != "2" || got[2].Name != "c" {
		t.Errorf("unexpected merge result: %+v", got)
	}
	if base[1].Description != "1" {
		t.Error("mergeAgents must not mutate its input")
	}
}
