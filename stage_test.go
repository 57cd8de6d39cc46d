package stagegraph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepListUnmarshalArray(t *testing.T) {
	var d DepList
	require.NoError(t, json.Unmarshal([]byte(`["a", "b"]`), &d))
	assert.Equal(t, DepList{"a", "b"}, d)
}

func TestDepListUnmarshalBareString(t *testing.T) {
	var d DepList
	require.NoError(t, json.Unmarshal([]byte(`"a"`), &d))
	assert.Equal(t, DepList{"a"}, d)
}

func TestDepListUnmarshalNull(t *testing.T) {
	var d DepList
	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.Nil(t, d)
}

func TestDepListUnmarshalMalformed(t *testing.T) {
	for _, raw := range []string{`42`, `{"a": 1}`, `[1, 2]`, `["a", 7]`} {
		var d DepList
		err := json.Unmarshal([]byte(raw), &d)
		assert.Error(t, err, "input %s should fail fast, not coerce", raw)
	}
}

func TestStageUnmarshalNormalizesDeps(t *testing.T) {
	var s Stage
	require.NoError(t, json.Unmarshal([]byte(`{"name": "load", "depends_on": "transform"}`), &s))
	assert.Equal(t, DepList{"transform"}, s.DependsOn)
}

func TestGraphDependenciesCopies(t *testing.T) {
	g := Graph{
		"a": {Name: "a"},
		"b": {Name: "b", DependsOn: DepList{"a"}},
	}

	deps := g.Dependencies()
	require.Equal(t, []string{"a"}, deps["b"])

	deps["b"][0] = "mutated"
	assert.Equal(t, DepList{"a"}, g["b"].DependsOn)
}
