package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/pmmresearch/internal/research"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	for _, k := range []string{"DEEPSEEK_API_KEY", "GROQ_API_KEY", "TAVILY_API_KEY", "SERPER_API_KEY", "BRAVE_SEARCH_KEY", "DATABASE_URL"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "testprompt2"), []byte("You are a PMM analyst."), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	cfg := "general:\n  log_level: error\nprompts:\n  dir: " + dir + "\ncache:\n  enabled: false\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCMD()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPromptsList(t *testing.T) {
	cfg, _ := writeConfig(t)
	out, err := execute(t, "-c", cfg, "prompts", "list")
	if err != nil {
		t.Fatalf("prompts list: %v", err)
	}
	if !strings.Contains(out, "testprompt2") || !strings.Contains(out, "Clean 5-section approach") {
		t.Fatalf("unexpected listing:\n%s", out)
	}
}

func TestResearchRejectsUnknownMode(t *testing.T) {
	_, err := execute(t, "research", "--mode", "vibes", "crm")
	if !errors.Is(err, research.ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}

func TestResearchWithoutBackendWritesErrorReport(t *testing.T) {
	cfg, dir := writeConfig(t)
	outFile := filepath.Join(dir, "report.md")
	out, err := execute(t, "-c", cfg, "research", "--mode", "single_shot", "--out", outFile, "Compare", "ClickUp", "and", "Asana")
	if err == nil || !strings.Contains(err.Error(), research.ErrNoBackend.Error()) {
		t.Fatalf("expected no-backend failure, got %v", err)
	}
	if !strings.Contains(out, "**Query:** Compare ClickUp and Asana") {
		t.Fatalf("expected report on stdout:\n%s", out)
	}
	data, err := os.ReadFile(outFile)
	if err != nil || !strings.HasPrefix(string(data), "# PMM Research Report") {
		t.Fatalf("expected markdown export, got %q %v", data, err)
	}
}

func TestCacheClearDisabledCache(t *testing.T) {
	cfg, _ := writeConfig(t)
	out, err := execute(t, "-c", cfg, "cache", "clear")
	if err != nil || !strings.Contains(out, "cache cleared") {
		t.Fatalf("cache clear: %q %v", out, err)
	}
}

func TestMigrateWithoutPostgresDSN(t *testing.T) {
	cfg, _ := writeConfig(t)
	_, err := execute(t, "-c", cfg, "migrate")
	if err == nil || !strings.Contains(err.Error(), "postgres dsn required") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
}
