package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/meikuraledutech/stagegraph"
	"github.com/meikuraledutech/stagegraph/postgres"
	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
)

// registry holds one in-memory Modifier per pipeline, rehydrated from the
// store on first touch. The Modifier serializes mutations; the registry
// mutex only guards the map itself.
type registry struct {
	mu        sync.Mutex
	store     stagegraph.Store
	pipelines map[string]*stagegraph.Modifier
}

// load returns the Modifier for a pipeline, rehydrating it from the store if
// one was persisted. create controls whether an unknown pipeline starts
// empty or is reported as missing.
func (r *registry) load(ctx context.Context, id string, create bool) (*stagegraph.Modifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.pipelines[id]; ok {
		return m, nil
	}

	g, err := r.store.GetGraph(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		if !create {
			return nil, stagegraph.ErrPipelineNotFound
		}
		g = stagegraph.Graph{}
	}

	m := stagegraph.NewWithGraph("server", g)
	r.pipelines[id] = m
	return m, nil
}

func (r *registry) forget(id string) {
	r.mu.Lock()
	delete(r.pipelines, id)
	r.mu.Unlock()
}

// mirror persists the audit event and, after a successful mutation, the new
// graph snapshot. Mirroring failures are logged, not surfaced — the
// in-memory graph is the source of truth during a run.
func (r *registry) mirror(ctx context.Context, id string, m *stagegraph.Modifier, res stagegraph.Result) {
	if err := r.store.AppendEvent(ctx, id, res.Event); err != nil {
		slog.Error("append event", "pipeline", id, "err", err)
	}
	if res.Success {
		if err := r.store.SaveGraph(ctx, id, m.Graph()); err != nil {
			slog.Error("save graph", "pipeline", id, "err", err)
		}
	}
}

// statusFor maps a rejected Result to an HTTP status.
func statusFor(res stagegraph.Result) int {
	switch {
	case strings.HasPrefix(res.Error, "cycle detected"):
		return 422
	case strings.HasSuffix(res.Error, "not found"):
		return 404
	default:
		return 409
	}
}

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":3000"
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	reg := &registry{
		store:     postgres.New(pool),
		pipelines: map[string]*stagegraph.Modifier{},
	}

	app := fiber.New()

	// ── Schema ────────────────────────────────────────────────────────
	app.Post("/schema", func(c fiber.Ctx) error {
		if err := reg.store.CreateSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema created"})
	})

	app.Delete("/schema", func(c fiber.Ctx) error {
		if err := reg.store.DropSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema dropped"})
	})

	// ── Mutations ─────────────────────────────────────────────────────
	app.Post("/pipelines/:id/stages", func(c fiber.Ctx) error {
		var body struct {
			Name      string             `json:"name"`
			DependsOn stagegraph.DepList `json:"depends_on"`
			Config    json.RawMessage    `json:"config"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		if body.Name == "" {
			return c.Status(400).JSON(fiber.Map{"error": "name is required"})
		}

		m, err := reg.load(c.Context(), c.Params("id"), true)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		res := m.AddStage(body.Name, body.DependsOn, body.Config)
		slog.Info("add stage", "pipeline", c.Params("id"), "stage", body.Name, "success", res.Success)
		reg.mirror(c.Context(), c.Params("id"), m, res)

		if !res.Success {
			return c.Status(statusFor(res)).JSON(res)
		}
		return c.Status(201).JSON(res)
	})

	app.Post("/pipelines/:id/check", func(c fiber.Ctx) error {
		var body struct {
			Name      string             `json:"name"`
			DependsOn stagegraph.DepList `json:"depends_on"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}

		m, err := reg.load(c.Context(), c.Params("id"), true)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		cyclic, path := stagegraph.WouldCreateCycle(m.Graph(), body.Name, body.DependsOn)
		return c.JSON(fiber.Map{"would_create_cycle": cyclic, "cycle": path})
	})

	app.Delete("/pipelines/:id/stages/:name", func(c fiber.Ctx) error {
		m, err := reg.load(c.Context(), c.Params("id"), false)
		if err != nil {
			if errors.Is(err, stagegraph.ErrPipelineNotFound) {
				return c.Status(404).JSON(fiber.Map{"error": "pipeline not found"})
			}
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		res := m.RemoveStage(c.Params("name"))
		slog.Info("remove stage", "pipeline", c.Params("id"), "stage", c.Params("name"), "success", res.Success)
		reg.mirror(c.Context(), c.Params("id"), m, res)

		if !res.Success {
			return c.Status(statusFor(res)).JSON(res)
		}
		return c.JSON(res)
	})

	app.Put("/pipelines/:id", func(c fiber.Ctx) error {
		var g stagegraph.Graph
		if err := c.Bind().JSON(&g); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}

		m, err := reg.load(c.Context(), c.Params("id"), true)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		res := m.ReplacePipeline(g)
		slog.Info("replace pipeline", "pipeline", c.Params("id"), "stages", len(g))
		reg.mirror(c.Context(), c.Params("id"), m, res)
		return c.JSON(res)
	})

	app.Delete("/pipelines/:id", func(c fiber.Ctx) error {
		if err := reg.store.DeleteGraph(c.Context(), c.Params("id")); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		reg.forget(c.Params("id"))
		return c.SendStatus(204)
	})

	// ── Reads ─────────────────────────────────────────────────────────
	app.Get("/pipelines/:id", func(c fiber.Ctx) error {
		m, err := reg.load(c.Context(), c.Params("id"), false)
		if err != nil {
			if errors.Is(err, stagegraph.ErrPipelineNotFound) {
				return c.Status(404).JSON(fiber.Map{"error": "pipeline not found"})
			}
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(m.Graph())
	})

	app.Get("/pipelines/:id/stats", func(c fiber.Ctx) error {
		m, err := reg.load(c.Context(), c.Params("id"), false)
		if err != nil {
			if errors.Is(err, stagegraph.ErrPipelineNotFound) {
				return c.Status(404).JSON(fiber.Map{"error": "pipeline not found"})
			}
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(m.Stats())
	})

	app.Get("/pipelines/:id/history", func(c fiber.Ctx) error {
		events, err := reg.store.ListEvents(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(events)
	})

	log.Fatal(app.Listen(addr))
}
