package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/flowguard/pkg/engine"
)

const quotaModule = `# Vendor quota errors are rate limits.
# Applies to every connector.
package flowguard.classify

import rego.v1

kinds contains "RATE_LIMIT" if contains(msg, "quota exceeded")
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "quota.rego")
	writeFile(t, path, quotaModule)

	rules, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(rules))
	}

	rule := rules[0]
	if rule.Name != "quota" {
		t.Errorf("Expected name 'quota', got '%s'", rule.Name)
	}
	if rule.Type != SourceModule {
		t.Errorf("Expected type %s, got %s", SourceModule, rule.Type)
	}
	if rule.Package != Package {
		t.Errorf("Expected package %s, got %s", Package, rule.Package)
	}
	if rule.Description != "Vendor quota errors are rate limits. Applies to every connector." {
		t.Errorf("Unexpected description %q", rule.Description)
	}
	if rule.Rego != quotaModule {
		t.Error("Rego content doesn't match")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "vendor.json")
	writeFile(t, path, `{"description": "Vendor errors", "patterns": {"RATE_LIMIT": ["slow down"], "TIMEOUT": ["took too long"]}}`)

	rules, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(rules))
	}

	rule := rules[0]
	if rule.Type != SourcePatterns || rule.Description != "Vendor errors" {
		t.Errorf("Unexpected rule %+v", rule)
	}
	if got := rule.Patterns[engine.ErrorKindTimeout]; len(got) != 1 || got[0] != "took too long" {
		t.Errorf("TIMEOUT patterns = %v", got)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"rego syntax", "bad.rego", "package flowguard.classify\n\nkinds contains if {"},
		{"json syntax", "bad.json", `{"patterns": `},
		{"unknown kind", "kind.json", `{"patterns": {"BOGUS": ["x"]}}`},
		{"unknown error kind", "unknown.json", `{"patterns": {"UNKNOWN_ERROR": ["x"]}}`},
		{"empty pattern", "empty.json", `{"patterns": {"TIMEOUT": [" "]}}`},
		{"no patterns", "none.json", `{"description": "nothing"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(zerolog.Nop())
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)

			if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
				t.Error("LoadFromPaths() expected error")
			}
		})
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "quota.rego"), quotaModule)
	writeFile(t, filepath.Join(dir, "vendors", "acme.json"), `{"patterns": {"NETWORK_ERROR": ["socket hang up"]}}`)
	writeFile(t, filepath.Join(dir, "README.md"), "# ignored")

	rules, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("Expected 2 rules (including subdirectory), got %d", len(rules))
	}
}

func TestLoadFromDirectory_FailsOnBadFile(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "quota.rego"), quotaModule)
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	if _, err := loader.LoadFromPaths(context.Background(), []string{dir}); err == nil {
		t.Error("LoadFromPaths() expected error for a broken file")
	}
}

func TestLoadFromPaths_MissingPath(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("LoadFromPaths() expected error for missing path")
	}
}

func TestLoaderCacheRefreshesOnModTime(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "vendor.json")
	writeFile(t, path, `{"patterns": {"TIMEOUT": ["first"]}}`)

	if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}

	writeFile(t, path, `{"patterns": {"TIMEOUT": ["second"]}}`)
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	rules, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if got := rules[0].Patterns[engine.ErrorKindTimeout]; len(got) != 1 || got[0] != "second" {
		t.Errorf("TIMEOUT patterns = %v, want [second]", got)
	}
}

func TestWatch(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	loader.delay = 20 * time.Millisecond
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "quota.rego"), quotaModule)

	var reloads atomic.Int32
	var lastCount atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := loader.Watch(ctx, []string{dir}, func(rules []Rule) error {
		lastCount.Store(int32(len(rules)))
		reloads.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	if err := loader.Watch(ctx, []string{dir}, func([]Rule) error { return nil }); err == nil {
		t.Error("second Watch() expected error")
	}

	writeFile(t, filepath.Join(dir, "vendor.json"), `{"patterns": {"TIMEOUT": ["took too long"]}}`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && lastCount.Load() != 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if reloads.Load() == 0 {
		t.Fatal("reload function was not called")
	}
	if lastCount.Load() != 2 {
		t.Errorf("reloaded %d rules, want 2", lastCount.Load())
	}
}

func TestStopWatchingWithoutWatch(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if err := loader.StopWatching(); err != nil {
		t.Errorf("StopWatching() error = %v", err)
	}
}
