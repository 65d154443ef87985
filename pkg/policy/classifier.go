package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// evalTimeout bounds a single rule evaluation.
const evalTimeout = 250 * time.Millisecond

// RegoClassifier classifies failures with OPA. Errors carrying an explicit
// kind keep it; otherwise the Rego decision is used, and an undefined
// decision falls back to the heuristic classifier.
type RegoClassifier struct {
	logger   zerolog.Logger
	loader   *Loader
	fallback engine.Classifier

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
	rules []Rule
}

var (
	_ engine.Classifier        = (*RegoClassifier)(nil)
	_ engine.FailureClassifier = (*RegoClassifier)(nil)
)

// NewRegoClassifier creates a classifier with only the built-in module.
func NewRegoClassifier(ctx context.Context, logger zerolog.Logger) (*RegoClassifier, error) {
	c := &RegoClassifier{
		logger:   logger.With().Str("component", "rego-classifier").Logger(),
		loader:   NewLoader(logger),
		fallback: engine.HeuristicClassifier{},
	}

	if err := c.apply(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to compile built-in rules: %w", err)
	}
	return c, nil
}

// Load replaces the operator rules with those found under paths. On error the
// previous rules stay active.
func (c *RegoClassifier) Load(ctx context.Context, paths []string) error {
	rules, err := c.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return c.apply(ctx, rules)
}

// Watch reloads the rules under paths whenever they change.
func (c *RegoClassifier) Watch(ctx context.Context, paths []string) error {
	return c.loader.Watch(ctx, paths, func(rules []Rule) error {
		return c.apply(ctx, rules)
	})
}

// Stop stops watching.
func (c *RegoClassifier) Stop() error {
	return c.loader.StopWatching()
}

// Rules returns the built-in rule followed by the loaded operator rules.
func (c *RegoClassifier) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Rule, 0, len(c.rules)+1)
	out = append(out, builtinRule())
	return append(out, c.rules...)
}

// apply compiles the built-in module together with rules and swaps the
// prepared query in.
func (c *RegoClassifier) apply(ctx context.Context, rules []Rule) error {
	builtin := builtinRule()
	opts := []func(*rego.Rego){
		rego.Query(Query),
		rego.Module(builtin.moduleName(), builtin.Rego),
	}

	patterns := make(map[string][]string)
	for i := range rules {
		r := &rules[i]
		switch r.Type {
		case SourcePatterns:
			for kind, ps := range r.Patterns {
				patterns[string(kind)] = append(patterns[string(kind)], ps...)
			}
		case SourceModule:
			opts = append(opts, rego.Module(r.moduleName(), r.Rego))
			if r.Package != Package {
				c.logger.Debug().
					Str("rule", r.Name).
					Str("package", r.Package).
					Msg("Module outside the classification package")
			}
		default:
			return fmt.Errorf("rule %s: unsupported type %q", r.Name, r.Type)
		}
	}
	opts = append(opts, rego.Store(inmem.NewFromObject(patternData(patterns))))

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare classification query: %w", err)
	}

	c.mu.Lock()
	c.query = query
	c.rules = append([]Rule(nil), rules...)
	c.mu.Unlock()

	c.logger.Info().
		Int("rules", len(rules)).
		Int("pattern_kinds", len(patterns)).
		Msg("Classification rules compiled")

	return nil
}

// patternData builds data.flowguard.patterns in plain JSON types.
func patternData(patterns map[string][]string) map[string]interface{} {
	kinds := make([]string, 0, len(patterns))
	for k := range patterns {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	table := make(map[string]interface{}, len(patterns))
	for _, k := range kinds {
		list := make([]interface{}, 0, len(patterns[k]))
		for _, p := range patterns[k] {
			list = append(list, strings.ToLower(p))
		}
		table[k] = list
	}

	return map[string]interface{}{
		"flowguard": map[string]interface{}{
			"patterns": table,
		},
	}
}

// Classify implements engine.Classifier.
func (c *RegoClassifier) Classify(err error) engine.ErrorKind {
	return c.ClassifyFailure(engine.Failure{Err: err})
}

// ClassifyFailure implements engine.FailureClassifier.
func (c *RegoClassifier) ClassifyFailure(f engine.Failure) engine.ErrorKind {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()
	return c.Explain(ctx, f).Kind
}

// Explain classifies f and reports which stage decided.
func (c *RegoClassifier) Explain(ctx context.Context, f engine.Failure) Decision {
	if f.Err == nil {
		return Decision{Kind: engine.ErrorKindUnknown, Source: DecisionHeuristic}
	}
	if kind, ok := engine.KindOf(f.Err); ok {
		return Decision{Kind: kind, Source: DecisionExplicit}
	}

	kind, err := c.evaluate(ctx, Input{
		Message:     f.Err.Error(),
		ErrorType:   fmt.Sprintf("%T", f.Err),
		ConnectorID: f.ConnectorID,
		NodeType:    f.NodeType,
	})
	if err != nil {
		c.logger.Warn().Err(err).
			Str("connector_id", f.ConnectorID).
			Str("node_type", f.NodeType).
			Msg("Classification rule evaluation failed, using heuristics")
	} else if kind != "" {
		return Decision{Kind: kind, Source: DecisionRego}
	}

	return Decision{Kind: c.fallback.Classify(f.Err), Source: DecisionHeuristic}
}

// evaluate runs the prepared query. An undefined decision returns "".
func (c *RegoClassifier) evaluate(ctx context.Context, input Input) (engine.ErrorKind, error) {
	c.mu.RLock()
	query := c.query
	c.mu.RUnlock()

	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("policy evaluation error: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return "", nil
	}

	s, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", Query, rs[0].Expressions[0].Value)
	}
	kind := engine.ErrorKind(s)
	if err := kind.Validate(); err != nil {
		return "", err
	}
	return kind, nil
}
