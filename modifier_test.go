package stagegraph

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAddStage(t *testing.T) {
	m := New("test")

	res := m.AddStage("stage_1", nil, json.RawMessage(`{"retries": 3}`))
	require.True(t, res.Success)
	assert.Equal(t, []string{"stage_1"}, res.Stages)
	assert.Equal(t, ModAdd, res.Event.Kind)
	assert.Equal(t, "stage_1", res.Event.Target)
	assert.Equal(t, "test", res.Event.Source)
	assert.NotEmpty(t, res.Event.ID)

	g := m.Graph()
	assert.Equal(t, StatusPending, g["stage_1"].Status)
}

func TestAddStageDuplicateRejected(t *testing.T) {
	m := New("test")

	require.True(t, m.AddStage("s", nil, json.RawMessage(`{}`)).Success)

	res := m.AddStage("s", nil, json.RawMessage(`{}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, `"s"`)
	assert.Equal(t, []string{"s"}, res.Stages)

	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, ModAdd, history[0].Kind)
	assert.Equal(t, "s", history[0].Target)
	assert.True(t, history[0].Success)
	assert.Equal(t, ModAdd, history[1].Kind)
	assert.Equal(t, "s", history[1].Target)
	assert.False(t, history[1].Success)
}

func TestAddStageCycleRejected(t *testing.T) {
	m := New("test")

	// Orphan forward reference is allowed; closing the loop is not.
	require.True(t, m.AddStage("a", []string{"b"}, nil).Success)

	res := m.AddStage("b", []string{"a"}, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "cycle detected")
	assert.Equal(t, []string{"a"}, res.Stages, "rejected add must leave the graph untouched")
	assert.Nil(t, DetectCycle(m.Graph()))
}

func TestAddStageOrphanDependencyAllowed(t *testing.T) {
	m := New("test")

	res := m.AddStage("orphan", []string{"nonexistent"}, json.RawMessage(`{}`))
	assert.True(t, res.Success)
	assert.Nil(t, DetectCycle(m.Graph()))
}

func TestRemoveStageScrubsReferences(t *testing.T) {
	m := New("test")
	require.True(t, m.AddStage("x", nil, nil).Success)
	require.True(t, m.AddStage("y", []string{"x"}, nil).Success)
	require.True(t, m.AddStage("z", []string{"x", "y"}, nil).Success)

	res := m.RemoveStage("x")
	require.True(t, res.Success)
	assert.Equal(t, ModRemove, res.Event.Kind)

	for name, deps := range res.Dependencies {
		assert.NotContains(t, deps, "x", "stage %s still references the removed stage", name)
	}
	assert.Equal(t, []string{"y"}, res.Dependencies["z"])
}

func TestRemoveStageUnknownRejected(t *testing.T) {
	m := New("test")

	res := m.RemoveStage("ghost")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
	assert.Empty(t, res.Stages)
	assert.Len(t, m.History(), 1)
}

func TestReplacePipelineAlwaysSucceeds(t *testing.T) {
	m := New("test")
	require.True(t, m.AddStage("old", nil, nil).Success)

	// Replace performs no validation of its own, even for a cyclic graph;
	// callers validate beforehand with DetectCycle.
	res := m.ReplacePipeline(Graph{
		"p": {DependsOn: DepList{"q"}},
		"q": {DependsOn: DepList{"p"}},
	})
	require.True(t, res.Success)
	assert.Equal(t, ModReplace, res.Event.Kind)
	assert.Empty(t, res.Event.Target)
	assert.Equal(t, []string{"p", "q"}, res.Stages)

	g := m.Graph()
	assert.Equal(t, "p", g["p"].Name, "replace fills in stage names from keys")
	assert.NotNil(t, DetectCycle(g))
}

func TestStatsScenario(t *testing.T) {
	m := New("test")

	stats := m.Stats()
	assert.Equal(t, 100.0, stats.SuccessRate, "empty history reports 100")

	require.True(t, m.AddStage("stage_1", nil, json.RawMessage(`{}`)).Success)
	res := m.AddStage("stage_2", []string{"stage_1"}, json.RawMessage(`{}`))
	require.True(t, res.Success)
	assert.Equal(t, []string{"stage_1", "stage_2"}, res.Stages)

	// stage_2 depends on stage_1, so stage_1 depending on stage_2 would
	// close a loop.
	cyclic, path := WouldCreateCycle(m.Graph(), "stage_1", []string{"stage_2"})
	assert.True(t, cyclic)
	assert.ElementsMatch(t, []string{"stage_1", "stage_2"}, path)

	stats = m.Stats()
	assert.Equal(t, 2, stats.TotalModifications)
	assert.Equal(t, 0, stats.FailedModifications)
	assert.Equal(t, 100.0, stats.SuccessRate)
	assert.Equal(t, 2, stats.HistoryLength)
	assert.Equal(t, []string{"stage_1", "stage_2"}, stats.Stages)
}

func TestStatsCountsFailures(t *testing.T) {
	m := New("test")

	require.True(t, m.AddStage("s", nil, nil).Success)
	require.False(t, m.AddStage("s", nil, nil).Success)
	require.False(t, m.RemoveStage("ghost").Success)
	require.True(t, m.RemoveStage("s").Success)

	stats := m.Stats()
	assert.Equal(t, 4, stats.TotalModifications)
	assert.Equal(t, 2, stats.FailedModifications)
	assert.Equal(t, 50.0, stats.SuccessRate)
}

func TestHistoryAppendOnly(t *testing.T) {
	m := New("test")

	prev := 0
	ops := []func() Result{
		func() Result { return m.AddStage("a", nil, nil) },
		func() Result { return m.AddStage("a", nil, nil) }, // duplicate, fails
		func() Result { return m.AddStage("b", []string{"a"}, nil) },
		func() Result { return m.RemoveStage("ghost") }, // unknown, fails
		func() Result { return m.ReplacePipeline(Graph{}) },
		func() Result { return m.RemoveStage("a") }, // gone after replace, fails
	}

	for i, op := range ops {
		op()
		n := len(m.History())
		assert.Greater(t, n, prev, "history shrank after op %d", i)
		assert.Equal(t, i+1, n, "one event per attempt")
		prev = n
	}
}

func TestPreCheckedMutationsStayAcyclic(t *testing.T) {
	m := New("test")

	adds := []struct {
		name string
		deps []string
	}{
		{"ingest", nil},
		{"parse", []string{"ingest"}},
		{"enrich", []string{"parse"}},
		{"index", []string{"parse", "enrich"}},
		{"ingest", []string{"index"}}, // would close a loop, pre-check catches it
		{"report", []string{"index"}},
	}

	for _, a := range adds {
		if cyclic, _ := WouldCreateCycle(m.Graph(), a.name, a.deps); cyclic {
			continue
		}
		m.AddStage(a.name, a.deps, nil)
		assert.Nil(t, DetectCycle(m.Graph()), "graph went cyclic after adding %s", a.name)
	}

	m.RemoveStage("parse")
	assert.Nil(t, DetectCycle(m.Graph()))
}

func TestConcurrentAddStageSerialized(t *testing.T) {
	m := New("test")

	const n = 64
	var eg errgroup.Group
	for i := range n {
		name := fmt.Sprintf("stage_%02d", i)
		eg.Go(func() error {
			if res := m.AddStage(name, nil, nil); !res.Success {
				return fmt.Errorf("add %s: %s", name, res.Error)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	stats := m.Stats()
	assert.Equal(t, n, stats.TotalModifications)
	assert.Equal(t, 0, stats.FailedModifications)
	assert.Len(t, stats.Stages, n)
	assert.Len(t, m.History(), n)
}
