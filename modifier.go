package stagegraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Modification kinds recorded in the audit history.
const (
	ModAdd     = "add"
	ModRemove  = "remove"
	ModReplace = "replace"
)

// Event is an immutable audit record of one attempted mutation. Exactly one
// event is appended per attempt, whether or not the mutation was applied.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	Target    string          `json:"target,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	Source    string          `json:"source,omitempty"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
}

// Result is the outcome of one mutation attempt. Stages and Dependencies
// snapshot the graph after the attempt — on a rejection they reflect the
// untouched pre-attempt state.
type Result struct {
	Success      bool                `json:"success"`
	Event        Event               `json:"event"`
	Error        string              `json:"error,omitempty"`
	Stages       []string            `json:"stages"`
	Dependencies map[string][]string `json:"dependencies"`
}

// Stats is a read-only aggregate view of a Modifier.
type Stats struct {
	TotalModifications  int                 `json:"total_modifications"`
	FailedModifications int                 `json:"failed_modifications"`
	SuccessRate         float64             `json:"success_rate"`
	Stages              []string            `json:"stages"`
	Dependencies        map[string][]string `json:"dependencies"`
	HistoryLength       int                 `json:"history_length"`
}

// Modifier owns a pipeline's dependency graph and serializes all structural
// mutations behind one mutex. Each mutation validates, applies, and appends
// its audit event before the next may begin; a rejected mutation leaves the
// graph untouched. Safe for concurrent use.
type Modifier struct {
	mu      sync.Mutex
	source  string
	stages  Graph
	history []Event
	failed  int
}

// New creates an empty Modifier. The source tag is stamped onto every audit
// event this instance records.
func New(source string) *Modifier {
	return &Modifier{source: source, stages: Graph{}}
}

// NewWithGraph creates a Modifier seeded with an existing graph, without
// recording a replace event. Used to rehydrate persisted pipelines.
func NewWithGraph(source string, g Graph) *Modifier {
	m := New(source)
	m.stages = g.clone()
	return m
}

// AddStage inserts a new stage with status "pending".
//
// The attempt is rejected if the name is already taken, or if the stage's
// dependencies would make the graph cyclic (checked before any mutation, so
// a rejection never leaves partial state). Dependencies naming stages not
// present in the graph are permitted — they are inert until the referenced
// stage appears.
func (m *Modifier) AddStage(name string, deps []string, config json.RawMessage) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := m.newEvent(ModAdd, name, config)

	if _, exists := m.stages[name]; exists {
		return m.reject(ev, fmt.Sprintf("stage %q already exists", name))
	}
	if cyclic, path := WouldCreateCycle(m.stages, name, deps); cyclic {
		return m.reject(ev, "cycle detected: "+strings.Join(path, " -> "))
	}

	m.stages[name] = Stage{
		Name:      name,
		DependsOn: append(DepList{}, deps...),
		Config:    config,
		Status:    StatusPending,
	}
	return m.commit(ev)
}

// RemoveStage deletes a stage and scrubs its name from every remaining
// stage's dependency list. Rejected if the stage does not exist.
func (m *Modifier) RemoveStage(name string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := m.newEvent(ModRemove, name, nil)

	if _, exists := m.stages[name]; !exists {
		return m.reject(ev, fmt.Sprintf("stage %q not found", name))
	}

	delete(m.stages, name)
	for n, s := range m.stages {
		kept := s.DependsOn[:0:0]
		for _, dep := range s.DependsOn {
			if dep != name {
				kept = append(kept, dep)
			}
		}
		s.DependsOn = kept
		m.stages[n] = s
	}
	return m.commit(ev)
}

// ReplacePipeline swaps the entire graph for the supplied one. The swap is
// unconditional — no cycle or schema check runs here; callers validating the
// replacement do so beforehand with DetectCycle. Always succeeds.
func (m *Modifier) ReplacePipeline(g Graph) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := m.newEvent(ModReplace, "", nil)

	next := make(Graph, len(g))
	for name, s := range g {
		s.Name = name
		next[name] = s
	}
	m.stages = next
	return m.commit(ev)
}

// Graph returns a copy of the current graph.
func (m *Modifier) Graph() Graph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages.clone()
}

// History returns a copy of the audit log, in the order mutations were
// applied (lock-acquisition order under contention).
func (m *Modifier) History() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event{}, m.history...)
}

// Stats returns the aggregate view. SuccessRate is 100 when no modifications
// have been attempted.
func (m *Modifier) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.history)
	rate := 100.0
	if total > 0 {
		rate = float64(total-m.failed) / float64(total) * 100
	}

	stages, deps := m.snapshot()
	return Stats{
		TotalModifications:  total,
		FailedModifications: m.failed,
		SuccessRate:         rate,
		Stages:              stages,
		Dependencies:        deps,
		HistoryLength:       total,
	}
}

func (m *Modifier) newEvent(kind, target string, config json.RawMessage) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Target:    target,
		Config:    config,
		Source:    m.source,
	}
}

// commit records a successful mutation. Caller must hold mu.
func (m *Modifier) commit(ev Event) Result {
	ev.Success = true
	m.history = append(m.history, ev)
	return m.result(ev)
}

// reject records a failed attempt without touching the graph. Caller must
// hold mu.
func (m *Modifier) reject(ev Event, errMsg string) Result {
	ev.Success = false
	ev.Error = errMsg
	m.history = append(m.history, ev)
	m.failed++
	return m.result(ev)
}

func (m *Modifier) result(ev Event) Result {
	stages, deps := m.snapshot()
	return Result{
		Success:      ev.Success,
		Event:        ev,
		Error:        ev.Error,
		Stages:       stages,
		Dependencies: deps,
	}
}

// snapshot returns the sorted stage list and dependency map. Caller must
// hold mu.
func (m *Modifier) snapshot() ([]string, map[string][]string) {
	stages := make([]string, 0, len(m.stages))
	for name := range m.stages {
		stages = append(stages, name)
	}
	sort.Strings(stages)
	return stages, m.stages.Dependencies()
}
