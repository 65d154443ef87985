package engine

import (
	"context"
	"errors"
	"strings"
)

// Classifier maps an operation failure to an ErrorKind.
type Classifier interface {
	Classify(err error) ErrorKind
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(err error) ErrorKind

// Classify calls f(err).
func (f ClassifierFunc) Classify(err error) ErrorKind {
	return f(err)
}

// Failure is an operation error together with the node that produced it.
type Failure struct {
	Err         error
	ConnectorID string
	NodeType    string
}

// FailureClassifier is implemented by classifiers that use the node context.
// The orchestrator prefers ClassifyFailure over Classify when available.
type FailureClassifier interface {
	ClassifyFailure(f Failure) ErrorKind
}

// ClassifyFailure classifies f with c, passing the node context when c accepts it.
func ClassifyFailure(c Classifier, f Failure) ErrorKind {
	if fc, ok := c.(FailureClassifier); ok {
		return fc.ClassifyFailure(f)
	}
	return c.Classify(f.Err)
}

// kindCarrier is implemented by errors that know their own classification.
type kindCarrier interface {
	ErrorKind() ErrorKind
}

// KindOf returns the explicit classification carried by err, if any. A kind
// outside the known set is ignored so callers fall back to message matching.
func KindOf(err error) (ErrorKind, bool) {
	var kc kindCarrier
	if !errors.As(err, &kc) {
		return "", false
	}
	kind := kc.ErrorKind()
	if kind.Validate() != nil {
		return "", false
	}
	return kind, true
}

// classifierRule is a message pattern group for the heuristic classifier.
type classifierRule struct {
	kind     ErrorKind
	patterns []string
}

// Rules are evaluated in order; the first match wins.
var heuristicRules = []classifierRule{
	{kind: ErrorKindTimeout, patterns: []string{"timeout", "timed out", "etimedout"}},
	{kind: ErrorKindRateLimit, patterns: []string{"rate limit", "429"}},
	{kind: ErrorKindNetwork, patterns: []string{"network", "econnreset", "econnrefused"}},
	{kind: ErrorKindServiceUnavailable, patterns: []string{"503", "service unavailable"}},
	{kind: ErrorKindServerError, patterns: []string{"500", "internal server error"}},
}

// HeuristicClassifier classifies errors by case-insensitive substring
// matching on the error message. Errors carrying an explicit kind bypass the
// message rules.
type HeuristicClassifier struct{}

// Classify implements Classifier.
func (HeuristicClassifier) Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	if kind, ok := KindOf(err); ok {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage applies the heuristic message rules to msg.
func ClassifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	for _, rule := range heuristicRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.kind
			}
		}
	}
	return ErrorKindUnknown
}

// ChainClassifier asks each classifier in turn and returns the first answer
// other than ErrorKindUnknown.
type ChainClassifier []Classifier

// Classify implements Classifier.
func (c ChainClassifier) Classify(err error) ErrorKind {
	return c.ClassifyFailure(Failure{Err: err})
}

// ClassifyFailure implements FailureClassifier.
func (c ChainClassifier) ClassifyFailure(f Failure) ErrorKind {
	for _, cl := range c {
		if cl == nil {
			continue
		}
		if kind := ClassifyFailure(cl, f); kind != ErrorKindUnknown {
			return kind
		}
	}
	return ErrorKindUnknown
}
