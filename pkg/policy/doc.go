// Package policy provides Open Policy Agent (OPA) classification rules for
// flowguard.
//
// RegoClassifier implements engine.Classifier. For every failure it
// evaluates
//
//	data.flowguard.classify.kind
//
// against an input document:
//
//	{
//	  "message":      "<error string>",
//	  "error_type":   "*url.Error",
//	  "connector_id": "stripe",
//	  "node_type":    "charge"
//	}
//
// An undefined result falls back to the heuristic classifier, so rules only
// need to cover the failures the heuristics get wrong. Errors wrapped with
// engine.WithKind keep their kind and skip evaluation.
//
// # Rules
//
// The built-in module defines kind as the highest-precedence member of the
// kinds set (TIMEOUT, RATE_LIMIT, NETWORK_ERROR, SERVICE_UNAVAILABLE,
// SERVER_ERROR). Operators extend kinds with .rego modules in the same
// package; the lowercased message is available as msg:
//
//	package flowguard.classify
//
//	import rego.v1
//
//	kinds contains "RATE_LIMIT" if contains(msg, "quota exceeded")
//
//	kinds contains "SERVER_ERROR" if {
//	    input.connector_id == "stripe"
//	    contains(msg, "card_processing_error")
//	}
//
// Plain substring tables can be written as .json files instead:
//
//	{"patterns": {"NETWORK_ERROR": ["socket hang up"]}}
//
// # Hot Reload
//
// Watch reloads the rules when a file under the watched paths is written,
// created, removed or renamed. A rule set that fails to parse or compile is
// logged and the previous rules stay active.
package policy
