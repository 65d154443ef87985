package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestHeuristicClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrorKindUnknown},
		{"timeout", errors.New("request timeout"), ErrorKindTimeout},
		{"timed out", errors.New("dial tcp: i/o Timed Out"), ErrorKindTimeout},
		{"etimedout", errors.New("connect ETIMEDOUT 10.0.0.1:443"), ErrorKindTimeout},
		{"rate limit", errors.New("Rate Limit exceeded"), ErrorKindRateLimit},
		{"429", errors.New("HTTP 429 Too Many Requests"), ErrorKindRateLimit},
		{"network", errors.New("network is unreachable"), ErrorKindNetwork},
		{"econnreset", errors.New("read: ECONNRESET"), ErrorKindNetwork},
		{"econnrefused", errors.New("connect ECONNREFUSED"), ErrorKindNetwork},
		{"503", errors.New("upstream returned 503"), ErrorKindServiceUnavailable},
		{"service unavailable", errors.New("Service Unavailable"), ErrorKindServiceUnavailable},
		{"500", errors.New("status 500"), ErrorKindServerError},
		{"internal server error", errors.New("Internal Server Error"), ErrorKindServerError},
		{"unknown", errors.New("invalid argument"), ErrorKindUnknown},
		{"order: timeout beats 503", errors.New("503 gateway timeout"), ErrorKindTimeout},
		{"order: rate limit beats network", errors.New("network rate limit"), ErrorKindRateLimit},
		{"deadline exceeded", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorKindTimeout},
		{"explicit kind", WithKind(errors.New("boom"), ErrorKindRateLimit), ErrorKindRateLimit},
		{"explicit kind wrapped", fmt.Errorf("outer: %w", WithKind(errors.New("timeout"), ErrorKindServerError)), ErrorKindServerError},
		{"invalid explicit kind uses message", WithKind(errors.New("HTTP 503"), ErrorKind("BOGUS")), ErrorKindServiceUnavailable},
	}

	var c HeuristicClassifier
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestChainClassifier(t *testing.T) {
	override := ClassifierFunc(func(err error) ErrorKind {
		if err.Error() == "quota exhausted" {
			return ErrorKindRateLimit
		}
		return ErrorKindUnknown
	})
	chain := ChainClassifier{nil, override, HeuristicClassifier{}}

	if got := chain.Classify(errors.New("quota exhausted")); got != ErrorKindRateLimit {
		t.Errorf("override not applied, got %s", got)
	}
	if got := chain.Classify(errors.New("timeout")); got != ErrorKindTimeout {
		t.Errorf("fallback not applied, got %s", got)
	}
	if got := chain.Classify(errors.New("bad input")); got != ErrorKindUnknown {
		t.Errorf("unmatched error = %s, want %s", got, ErrorKindUnknown)
	}
}

func TestWithKindNil(t *testing.T) {
	if err := WithKind(nil, ErrorKindTimeout); err != nil {
		t.Errorf("WithKind(nil) = %v, want nil", err)
	}
}

func TestErrorKindValidate(t *testing.T) {
	if err := ErrorKindNetwork.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := ErrorKind("BOGUS").Validate(); err == nil {
		t.Error("Validate() accepted an unknown kind")
	}
}

type nodeAwareClassifier struct {
	seen []Failure
}

func (c *nodeAwareClassifier) Classify(err error) ErrorKind {
	return c.ClassifyFailure(Failure{Err: err})
}

func (c *nodeAwareClassifier) ClassifyFailure(f Failure) ErrorKind {
	c.seen = append(c.seen, f)
	if f.ConnectorID == "stripe" {
		return ErrorKindRateLimit
	}
	return ErrorKindUnknown
}

func TestClassifyFailurePassesNodeContext(t *testing.T) {
	aware := &nodeAwareClassifier{}
	chain := ChainClassifier{aware, HeuristicClassifier{}}

	f := Failure{Err: errors.New("card declined"), ConnectorID: "stripe", NodeType: "charge"}
	if got := ClassifyFailure(chain, f); got != ErrorKindRateLimit {
		t.Errorf("ClassifyFailure() = %s, want %s", got, ErrorKindRateLimit)
	}
	if len(aware.seen) != 1 || aware.seen[0].NodeType != "charge" {
		t.Errorf("classifier saw %+v, want node type charge", aware.seen)
	}

	if got := ClassifyFailure(HeuristicClassifier{}, f); got != ErrorKindUnknown {
		t.Errorf("ClassifyFailure(heuristic) = %s, want %s", got, ErrorKindUnknown)
	}
}

func TestKindOfRejectsUnknownKind(t *testing.T) {
	if _, ok := KindOf(WithKind(errors.New("boom"), ErrorKind("BOGUS"))); ok {
		t.Error("KindOf() accepted an unknown kind")
	}
	if kind, ok := KindOf(WithKind(errors.New("boom"), ErrorKindNetwork)); !ok || kind != ErrorKindNetwork {
		t.Errorf("KindOf() = %s, %v, want NETWORK_ERROR", kind, ok)
	}
}
