package policy

import (
	"path/filepath"
	"time"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// SourceType identifies what a rule contributes to classification.
type SourceType string

const (
	// SourceBuiltin is the module compiled into every classifier.
	SourceBuiltin SourceType = "builtin"

	// SourceModule is a Rego module loaded from a .rego file.
	SourceModule SourceType = "module"

	// SourcePatterns is a substring table loaded from a .json file.
	SourcePatterns SourceType = "patterns"
)

// Rule is one classification source.
type Rule struct {
	// Name is derived from the file name.
	Name string `json:"name"`

	// Description is taken from the leading comment block or the JSON document.
	Description string `json:"description,omitempty"`

	// Type is what the rule contributes.
	Type SourceType `json:"type"`

	// Path is the file the rule was loaded from.
	Path string `json:"path,omitempty"`

	// Package is the Rego package of a module.
	Package string `json:"package,omitempty"`

	// Rego is the module source.
	Rego string `json:"-"`

	// Patterns maps an error kind to message substrings.
	Patterns map[engine.ErrorKind][]string `json:"patterns,omitempty"`

	// LoadedAt is when the file was read.
	LoadedAt time.Time `json:"loaded_at"`
}

// moduleName is the file name OPA reports in compile errors.
func (r *Rule) moduleName() string {
	if r.Path != "" {
		return filepath.ToSlash(r.Path)
	}
	return r.Name + ".rego"
}

// PatternFile is the JSON form of a pattern table.
//
//	{
//	  "description": "Vendor quota errors",
//	  "patterns": {"RATE_LIMIT": ["quota exceeded", "slow down"]}
//	}
type PatternFile struct {
	Description string                        `json:"description"`
	Patterns    map[engine.ErrorKind][]string `json:"patterns"`
}

// Input is the document rules are evaluated against.
type Input struct {
	// Message is the failure's error string.
	Message string `json:"message"`

	// ErrorType is the Go type of the outermost error, e.g. "*url.Error".
	ErrorType string `json:"error_type"`

	// ConnectorID is the connector of the failing node, if any.
	ConnectorID string `json:"connector_id"`

	// NodeType is the workflow node type, if any.
	NodeType string `json:"node_type"`
}

// Decision sources reported by Explain.
const (
	DecisionExplicit  = "explicit"
	DecisionRego      = "rego"
	DecisionHeuristic = "heuristic"
)

// Decision is a classification together with what produced it.
type Decision struct {
	Kind   engine.ErrorKind `json:"kind"`
	Source string           `json:"source"`
}
