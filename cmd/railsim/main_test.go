package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yohamta/donburi"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/config"
	"github.com/hcsp/railsim/internal/gravity"
	"github.com/hcsp/railsim/internal/rail"
)

func TestBuildScene(t *testing.T) {
	w := donburi.NewWorld()
	demo, err := buildScene(w, gravity.G)
	require.NoError(t, err)

	earth := w.Entry(demo.Earth)
	assert.Equal(t, []donburi.Entity{demo.Shuttle, demo.Satellite, demo.Moon}, components.Children(earth))
	assert.Equal(t, []donburi.Entity{demo.Lander}, components.Children(w.Entry(demo.Moon)))

	shuttle := w.Entry(demo.Shuttle)
	assert.True(t, components.IsPhysicsOwned(shuttle))

	sat := w.Entry(demo.Satellite)
	assert.True(t, sat.HasComponent(components.Unloaded))
	assert.Equal(t, rail.KindOrbit, components.RailModeOf(sat).Kind())

	assert.Equal(t, rail.KindOrbit, components.RailModeOf(w.Entry(demo.Moon)).Kind())
	assert.Equal(t, rail.KindSurface, components.RailModeOf(w.Entry(demo.Lander)).Kind())
}

func TestBuildScene_RailsMatchSpawnState(t *testing.T) {
	w := donburi.NewWorld()
	demo, err := buildScene(w, 0)
	require.NoError(t, err)

	for _, e := range []donburi.Entity{demo.Satellite, demo.Moon} {
		entry := w.Entry(e)
		got := rail.Evaluate(components.RailModeOf(entry), 0)
		pos := components.RootPosition.GetValue(entry)
		assert.InDelta(t, pos[0], got.Position[0], 1e-3, components.NameOf(entry))
		assert.InDelta(t, pos[1], got.Position[1], 1e-3, components.NameOf(entry))
	}
}

func TestParseFlags_OverridesConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(`{"sim": {"ticks": 99}}`), 0644))

	got, err := parseFlags([]string{"--config", dir, "--ticks", "3", "--gravity-mode", "force"})
	require.NoError(t, err)
	require.NoError(t, config.Load(got))

	assert.Equal(t, dir, got)
	assert.Equal(t, 3, config.Simulation().Ticks)
	assert.Equal(t, "force", config.Simulation().GravityMode)
}

func TestParseFlags_Unknown(t *testing.T) {
	t.Cleanup(viper.Reset)
	_, err := parseFlags([]string{"--nope"})
	assert.Error(t, err)
}

func TestRun_WritesLogFile(t *testing.T) {
	t.Cleanup(viper.Reset)
	logs := t.TempDir()

	err := run([]string{"--config", t.TempDir(), "--ticks", "70", "--logs-dir", logs, "--log-format", "json"})
	require.NoError(t, err)

	entries, err := os.ReadDir(logs)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(logs, entries[0].Name()))
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, `"msg":"Finished"`)
	assert.Contains(t, out, `"entity":"lander"`)
	assert.Contains(t, out, `"tick":64`)
	assert.True(t, strings.HasPrefix(entries[0].Name(), AppName+"."))
}

func TestRun_BadGravityMode(t *testing.T) {
	t.Cleanup(viper.Reset)
	err := run([]string{"--config", t.TempDir(), "--ticks", "1", "--logs-dir", t.TempDir(), "--gravity-mode", "magic"})
	assert.Error(t, err)
}

func TestRun_Box2DEngine(t *testing.T) {
	t.Cleanup(viper.Reset)
	logs := t.TempDir()

	err := run([]string{"--config", t.TempDir(), "--ticks", "8", "--logs-dir", logs, "--physics-engine", "box2d"})
	require.NoError(t, err)

	entries, err := os.ReadDir(logs)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(logs, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "physics=box2d")
	assert.Contains(t, string(data), "tickRate=64")
}

func TestRun_UnknownPhysicsEngine(t *testing.T) {
	t.Cleanup(viper.Reset)
	err := run([]string{"--config", t.TempDir(), "--ticks", "1", "--logs-dir", t.TempDir(), "--physics-engine", "bullet"})
	assert.Error(t, err)
}

func TestRun_RealtimePacing(t *testing.T) {
	t.Cleanup(viper.Reset)

	start := time.Now()
	err := run([]string{"--config", t.TempDir(), "--ticks", "5", "--tick-rate", "100", "--realtime", "--logs-dir", t.TempDir()})
	require.NoError(t, err)

	// the first tick is free, the other four wait 10ms each
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRun_ExportsOTelLogs(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName),
		[]byte(`{"otel": {"enabled": true, "exportInterval": "1h"}}`), 0644))
	logs := t.TempDir()

	err := run([]string{"--config", dir, "--ticks", "3", "--logs-dir", logs})
	require.NoError(t, err)

	entries, err := os.ReadDir(logs)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var otelLog string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), AppName+"-otel.") {
			data, err := os.ReadFile(filepath.Join(logs, e.Name()))
			require.NoError(t, err)
			otelLog = string(data)
		}
	}
	assert.Contains(t, otelLog, "Running")
	assert.Contains(t, otelLog, "Finished")
}
