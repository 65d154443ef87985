package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader loads classification rules from .rego and .json files.
type Loader struct {
	logger zerolog.Logger
	delay  time.Duration

	mu      sync.Mutex
	cache   map[string]cachedRule
	watcher *fsnotify.Watcher
	done    chan struct{}
}

type cachedRule struct {
	rule    Rule
	modTime time.Time
}

// NewLoader creates a new rule loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		delay:  reloadDelay,
		cache:  make(map[string]cachedRule),
	}
}

// LoadFromPaths loads rules from a list of file or directory paths. Any file
// that fails to parse fails the whole load.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Rule, error) {
	var all []Rule

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rules, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, rules...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Classification rules loaded from paths")

	return all, nil
}

// loadFromPath loads rules from a single path (file or directory).
func (l *Loader) loadFromPath(path string) ([]Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(path)
	}

	rule, err := l.loadFromFile(path, info)
	if err != nil {
		return nil, err
	}
	return []Rule{rule}, nil
}

// loadFromDirectory loads all .rego and .json files under dirPath.
func (l *Loader) loadFromDirectory(dirPath string) ([]Rule, error) {
	var rules []Rule

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isRuleFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rule, err := l.loadFromFile(path, info)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		rules = append(rules, rule)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return rules, nil
}

func isRuleFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

// loadFromFile loads a rule from a single file. Parsed files are cached until
// their modification time changes.
func (l *Loader) loadFromFile(filePath string, info os.FileInfo) (Rule, error) {
	l.mu.Lock()
	cached, ok := l.cache[filePath]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.rule, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to read file: %w", err)
	}

	var rule Rule
	switch {
	case strings.HasSuffix(filePath, ".rego"):
		rule, err = parseRegoFile(filePath, data)
	case strings.HasSuffix(filePath, ".json"):
		rule, err = parseJSONFile(filePath, data)
	default:
		return Rule{}, fmt.Errorf("unsupported file type: %s", filePath)
	}
	if err != nil {
		return Rule{}, err
	}

	l.mu.Lock()
	l.cache[filePath] = cachedRule{rule: rule, modTime: info.ModTime()}
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", filePath).
		Str("type", string(rule.Type)).
		Msg("Classification rule loaded from file")

	return rule, nil
}

// parseRegoFile parses a .rego file into a Rule.
func parseRegoFile(filePath string, data []byte) (Rule, error) {
	module, err := ast.ParseModule(filePath, string(data))
	if err != nil {
		return Rule{}, fmt.Errorf("failed to parse module: %w", err)
	}
	if module == nil {
		return Rule{}, fmt.Errorf("empty module")
	}

	return Rule{
		Name:        strings.TrimSuffix(filepath.Base(filePath), ".rego"),
		Description: extractDescription(string(data)),
		Type:        SourceModule,
		Path:        filePath,
		Package:     strings.TrimPrefix(module.Package.Path.String(), "data."),
		Rego:        string(data),
		LoadedAt:    time.Now(),
	}, nil
}

// parseJSONFile parses a JSON pattern table.
func parseJSONFile(filePath string, data []byte) (Rule, error) {
	var pf PatternFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return Rule{}, fmt.Errorf("failed to parse pattern file: %w", err)
	}
	if len(pf.Patterns) == 0 {
		return Rule{}, fmt.Errorf("pattern file has no patterns")
	}
	for kind, patterns := range pf.Patterns {
		if err := kind.Validate(); err != nil {
			return Rule{}, err
		}
		if kind == engine.ErrorKindUnknown {
			return Rule{}, fmt.Errorf("patterns cannot map to %s", kind)
		}
		for _, p := range patterns {
			if strings.TrimSpace(p) == "" {
				return Rule{}, fmt.Errorf("empty pattern for %s", kind)
			}
		}
	}

	return Rule{
		Name:        strings.TrimSuffix(filepath.Base(filePath), ".json"),
		Description: pf.Description,
		Type:        SourcePatterns,
		Path:        filePath,
		Patterns:    pf.Patterns,
		LoadedAt:    time.Now(),
	}, nil
}

// extractDescription returns the leading comment block of a Rego module.
func extractDescription(content string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" {
				if description.Len() > 0 {
					description.WriteString(" ")
				}
				description.WriteString(comment)
			}
		} else if trimmed != "" && description.Len() > 0 {
			// Stop at first non-comment, non-empty line
			break
		}
	}

	return description.String()
}

// Watch starts watching paths and calls reloadFn with the full rule set
// whenever a rule file is written, created, removed or renamed. A failed load
// is logged and reloadFn is not called.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Rule) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		return fmt.Errorf("loader is already watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			err = watchDirectory(watcher, path)
		} else {
			// Watch the parent so editors that replace the file are noticed.
			err = watcher.Add(filepath.Dir(path))
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	l.watcher = watcher
	l.done = make(chan struct{})
	go l.processEvents(ctx, watcher, l.done, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching classification rules")

	return nil
}

// watchDirectory adds dirPath and its subdirectories to the watcher.
func watchDirectory(watcher *fsnotify.Watcher, dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// processEvents processes file system events and triggers reloads.
func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}, paths []string, reloadFn func([]Rule) error) {
	defer close(done)

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isRuleFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Classification rule changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(l.delay, func() {
				if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload classification rules, keeping previous")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload reloads all rules from watched paths.
func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func([]Rule) error) error {
	rules, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}

	if err := reloadFn(rules); err != nil {
		return fmt.Errorf("failed to apply reloaded rules: %w", err)
	}

	l.logger.Info().
		Int("count", len(rules)).
		Msg("Classification rules reloaded")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	watcher, done := l.watcher, l.done
	l.watcher, l.done = nil, nil
	l.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

// ClearCache drops all parsed files.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]cachedRule)
	l.logger.Debug().Msg("Rule cache cleared")
}
