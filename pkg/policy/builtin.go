package policy

import "time"

// Package is the Rego package classification rules contribute to.
const Package = "flowguard.classify"

// Query is evaluated for every failure. An undefined result defers to the
// heuristic classifier.
const Query = "data.flowguard.classify.kind"

// builtinModule defines the decision and the pattern table lookup. Operator
// modules extend it by adding members to kinds; they can reuse msg and
// matches.
const builtinModule = `package flowguard.classify

import rego.v1

# Kinds in precedence order. The first one present in kinds wins.
precedence := ["TIMEOUT", "RATE_LIMIT", "NETWORK_ERROR", "SERVICE_UNAVAILABLE", "SERVER_ERROR"]

msg := lower(input.message)

# matches is true when msg contains any of patterns.
matches(patterns) if {
	some p in patterns
	contains(msg, lower(p))
}

# Pattern tables loaded from JSON files.
kinds contains k if {
	some k, patterns in data.flowguard.patterns
	matches(patterns)
}

ordered := [k | some k in precedence; k in kinds]

kind := ordered[0]
`

// builtinRule returns the module compiled into every classifier.
func builtinRule() Rule {
	return Rule{
		Name:        "builtin",
		Description: "Decision rule and JSON pattern table lookup",
		Type:        SourceBuiltin,
		Package:     Package,
		Rego:        builtinModule,
		LoadedAt:    time.Now(),
	}
}
