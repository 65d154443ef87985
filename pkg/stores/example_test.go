package stores_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/flowguard/pkg/engine"
	"github.com/openfroyo/flowguard/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            stores.MemoryPath,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_ListExecutions shows the dead-letter queue surviving in
// the journal.
func ExampleSQLiteStore_ListExecutions() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	orch := engine.NewOrchestrator(engine.DefaultConfig(),
		engine.WithJournal(store),
		engine.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)

	_, _ = orch.Run(ctx, "sync_crm", "exec-1", func(context.Context) (any, error) {
		return nil, errors.New("network unreachable")
	}, engine.RunOptions{})

	dlq, _ := store.ListExecutions(ctx, engine.ExecutionStatusDLQ, 10, 0)
	for _, exec := range dlq {
		fmt.Println(exec.ExecutionID, exec.NodeID, len(exec.Attempts), exec.LastError)
	}
	// Output: exec-1 sync_crm 3 network unreachable
}
