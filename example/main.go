package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/meikuraledutech/stagegraph"
	"github.com/meikuraledutech/stagegraph/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	// Wire up the postgres implementation behind the Store interface.
	var store stagegraph.Store = postgres.New(pool)

	// 1. Create tables
	if err := store.CreateSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}
	fmt.Println("schema created")

	// ── Build a pipeline incrementally ────────────────────────────────
	m := stagegraph.New("example")

	res := m.AddStage("extract", nil, json.RawMessage(`{"source": "s3://raw-events"}`))
	fmt.Printf("add extract: success=%v stages=%v\n", res.Success, res.Stages)

	res = m.AddStage("transform", []string{"extract"}, json.RawMessage(`{"script": "clean.sql"}`))
	fmt.Printf("add transform: success=%v\n", res.Success)

	res = m.AddStage("load", []string{"transform"}, json.RawMessage(`{"target": "warehouse"}`))
	fmt.Printf("add load: success=%v\n", res.Success)

	// ── Pre-check a modification that would close a loop ──────────────
	cyclic, path := stagegraph.WouldCreateCycle(m.Graph(), "extract", []string{"load"})
	fmt.Printf("\nwould extract -> load create a cycle? %v (path: %v)\n", cyclic, path)

	// AddStage enforces the same check, so committing the loop is rejected.
	res = m.AddStage("extract", []string{"load"}, nil)
	fmt.Printf("re-add extract: success=%v error=%q\n", res.Success, res.Error)

	// ── Remove scrubs dangling references ─────────────────────────────
	res = m.RemoveStage("transform")
	fmt.Printf("\nremove transform: success=%v dependencies=%v\n", res.Success, res.Dependencies)

	// ── Persist and reload ────────────────────────────────────────────
	if err := store.SaveGraph(ctx, "etl-demo", m.Graph()); err != nil {
		log.Fatalf("save graph: %v", err)
	}
	for _, ev := range m.History() {
		if err := store.AppendEvent(ctx, "etl-demo", ev); err != nil {
			log.Fatalf("append event: %v", err)
		}
	}
	fmt.Println("\npipeline persisted")

	g, err := store.GetGraph(ctx, "etl-demo")
	if err != nil {
		log.Fatalf("get graph: %v", err)
	}
	reloaded := stagegraph.NewWithGraph("example", g)
	printJSON(reloaded.Graph())

	// ── Stats ─────────────────────────────────────────────────────────
	fmt.Println("\nstats:")
	printJSON(m.Stats())

	// ── Cleanup ───────────────────────────────────────────────────────
	if err := store.DeleteGraph(ctx, "etl-demo"); err != nil {
		log.Fatalf("delete: %v", err)
	}
	fmt.Println("\npipeline deleted")
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
