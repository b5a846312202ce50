package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dashblock/internal/agentconfig"
)

func TestReadinessSingleLine(t *testing.T) {
	m := NewReadinessMatcher([]string{"Done", `For help, type "help"`})

	assert.False(t, m.Observe("[Server thread/INFO]: Preparing spawn area: 83%"))
	assert.True(t, m.Observe(`[Server thread/INFO]: Done (3.2s)! For help, type "help"`))
	assert.True(t, m.Ready())
}

func TestReadinessAcrossLines(t *testing.T) {
	m := NewReadinessMatcher([]string{"Done", `For help, type "help"`})

	assert.False(t, m.Observe(`For help, type "help"`))
	assert.False(t, m.Ready())
	assert.True(t, m.Observe("Done (1s)!"))
}

func TestReadinessFiresOnce(t *testing.T) {
	m := NewReadinessMatcher([]string{"Done"})

	assert.True(t, m.Observe("Done"))
	assert.False(t, m.Observe("Done"))
	assert.True(t, m.Ready())
}

func TestReadinessNoMarkers(t *testing.T) {
	m := NewReadinessMatcher(nil)

	assert.False(t, m.Observe("Done"))
	assert.False(t, m.Ready())
}

func TestConfigMarkersForVariant(t *testing.T) {
	cfg := Config{
		ReadyMarkers: []string{"Done"},
		Readiness:    map[Variant][]string{VariantForge: {"Forge Mod Loader ready"}},
	}
	assert.Equal(t, []string{"Forge Mod Loader ready"}, cfg.markersFor(VariantForge))
	assert.Equal(t, []string{"Done"}, cfg.markersFor(VariantPaper))
}

func TestConfigFromCarriesVariantReadiness(t *testing.T) {
	cfg := &agentconfig.Config{
		AgentKey:   "k",
		RelayURL:   "hub:50051",
		ServerPath: "/srv/mc",
		Server: agentconfig.ServerConfig{
			Readiness: map[string][]string{"forge": {"Dedicated server took"}},
		},
	}
	cfg.ApplyDefaults()

	sc := ConfigFrom(cfg)
	assert.Equal(t, []string{"Dedicated server took"}, sc.markersFor(VariantForge))
	assert.Equal(t, agentconfig.DefaultReadyMarkers, sc.markersFor(VariantVanilla))
}

func TestReadinessVariantNamesMatchDetection(t *testing.T) {
	var known []string
	for _, v := range append(append([]Variant(nil), variantOrder...), VariantVanilla) {
		known = append(known, string(v))
	}
	require.ElementsMatch(t, known, agentconfig.Variants)
}
