package policy_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/flowguard/pkg/engine"
	"github.com/openfroyo/flowguard/pkg/policy"
)

func ExampleRegoClassifier() {
	dir, err := os.MkdirTemp("", "classify")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	rules := `{"patterns": {"RATE_LIMIT": ["quota exceeded"]}}`
	if err := os.WriteFile(filepath.Join(dir, "quota.json"), []byte(rules), 0o644); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	c, err := policy.NewRegoClassifier(ctx, zerolog.Nop())
	if err != nil {
		log.Fatal(err)
	}
	if err := c.Load(ctx, []string{dir}); err != nil {
		log.Fatal(err)
	}

	for _, msg := range []string{"Quota exceeded for project", "connect ETIMEDOUT", "invalid argument"} {
		d := c.Explain(ctx, engine.Failure{Err: errors.New(msg)})
		fmt.Println(d.Kind, d.Source)
	}
	// Output:
	// RATE_LIMIT rego
	// TIMEOUT heuristic
	// UNKNOWN_ERROR heuristic
}
