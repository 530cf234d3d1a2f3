package encoder

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netverify/cpverify/pkg/solver"
)

func TestRegistryVariable(t *testing.T) {
	x := solver.NewContext()
	r := newRegistry(x, func(c Category) int { return c.defaultWeight() })

	add, err := r.Variable("r1", StaticEdit, "eth0", Add)
	require.NoError(t, err)
	again, err := r.Variable("r1", StaticEdit, "eth0", Add)
	require.NoError(t, err)
	assert.Equal(t, add, again)

	remove, err := r.Variable("r1", StaticEdit, "eth0", Remove)
	require.NoError(t, err)
	assert.NotEqual(t, add, remove)

	adj, err := r.Variable("r0", AdjacencyEdit, "OSPF:r0:eth1|r1:eth1", Add)
	require.NoError(t, err)

	soft := x.SoftAssertions()
	require.Len(t, soft, 3)
	assert.Equal(t, "StaticAdd", soft[0].Label)
	assert.Equal(t, 1, soft[0].Weight)
	assert.Equal(t, "StaticRemove", soft[1].Label)
	assert.Equal(t, "AdjacencyEnable", soft[2].Label)
	assert.Equal(t, 3, soft[2].Weight)

	// Force two edits and read them back in a stable order.
	x.Assert("use add", add)
	x.Assert("use adjacency", adj)
	s, err := solver.New(x)
	require.NoError(t, err)
	m, err := s.Solve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, m.Cost)

	want := []Suggestion{
		{Router: "r0", Category: AdjacencyEdit, Rule: "OSPF:r0:eth1|r1:eth1", Kind: Add, Label: "AdjacencyEnable"},
		{Router: "r1", Category: StaticEdit, Rule: "eth0", Kind: Add, Label: "StaticAdd"},
	}
	if diff := cmp.Diff(want, r.Suggestions(m)); diff != "" {
		t.Errorf("unexpected suggestions (-want +got):\n%s", diff)
	}
}

func TestLabels(t *testing.T) {
	for _, tt := range []struct {
		Category Category
		Kind     EditKind
		Label    string
	}{
		{ACLEdit, Add, "ACLAdd"},
		{ACLEdit, Remove, "ACLRemove"},
		{StaticEdit, Remove, "StaticRemove"},
		{OSPFExportEdit, Add, "OSPFExportAdd"},
		{OSPFExportEdit, Remove, "OSPFExportRemove"},
		{BGPFilterEdit, Add, "BGPFilterAdd"},
		{BGPFilterEdit, Remove, "AllowRoute"},
		{RedistributionEdit, Add, "RedistributionEnable"},
		{RedistributionEdit, Remove, "RedistributionDisable"},
		{AdjacencyEdit, Add, "AdjacencyEnable"},
	} {
		assert.Equal(t, tt.Label, Label(tt.Category, tt.Kind))
	}
}

func TestWeightOverride(t *testing.T) {
	cfg := Config{}
	require.NoError(t, WithWeight(ACLEdit, 7)(&cfg))
	assert.Equal(t, 7, cfg.weight(ACLEdit))
	assert.Equal(t, 2, cfg.weight(RedistributionEdit))
}

func TestParseProtocol(t *testing.T) {
	for _, p := range routingProtocols {
		name := map[Protocol]string{Connected: "connected", Static: "static", OSPF: "ospf", BGP: "bgp"}[p]
		got, err := ParseProtocol(name)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParseProtocol("rip")
	assert.Error(t, err)
}

func TestFieldsRelevantToProtocols(t *testing.T) {
	assert.True(t, LocalPref.relevantTo(BGP))
	assert.False(t, LocalPref.relevantTo(OSPF))
	assert.True(t, Metric.relevantTo(OSPF))
	assert.False(t, Metric.relevantTo(Static))
	assert.True(t, PrefixLength.relevantTo(Connected))
	for f := Field(0); f < numFields; f++ {
		assert.True(t, f.relevantTo(Best), f.String())
	}
}

func TestInvariantErrors(t *testing.T) {
	err := invariant("router %s: broken", "r1")
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Contains(t, err.Error(), "router r1: broken")
}
