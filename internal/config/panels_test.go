package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const panelsYAML = `
- panel: 0
  northEastLat: 37.43
  northEastLng: -122.07
  southWestLat: 37.40
  southWestLng: -122.10
  markers:
    - {lat: 37.42, lng: -122.08, iconPath: hotel.png, name: Hotel}
  routesGroups: [["1", "2"], ["3"]]
- panel: 1
  northEastLat: 37.45
  northEastLng: -122.05
  southWestLat: 37.41
  southWestLng: -122.09
  routesGroups: [["4"], []]
`

func TestLoadPanels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(panelsYAML), 0o644))

	panels, err := LoadPanels(path)
	require.NoError(t, err)
	require.Len(t, panels, 2)
	assert.Equal(t, []string{"1", "2"}, panels[0].Left())
	assert.Equal(t, []string{"3"}, panels[0].Right())
	assert.Empty(t, panels[1].Right())
	require.Len(t, panels[0].Markers, 1)
	assert.Equal(t, "hotel.png", panels[0].Markers[0].IconPath)
	assert.InDelta(t, 37.43, panels[0].NorthEastLat, 1e-9)

	_, err = LoadPanels(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParsePanelsValidation(t *testing.T) {
	tests := map[string]string{
		"empty":            ``,
		"one route group":  `[{panel: 0, routesGroups: [["1"]]}]`,
		"three groups":     `[{panel: 0, routesGroups: [["1"], ["2"], ["3"]]}]`,
		"blank route id":   `[{panel: 0, routesGroups: [[""], ["2"]]}]`,
		"bad latitude":     `[{panel: 0, northEastLat: 91, routesGroups: [[], []]}]`,
		"inverted bounds":  `[{panel: 0, northEastLat: 10, southWestLat: 20, routesGroups: [[], []]}]`,
		"marker no name":   `[{panel: 0, markers: [{lat: 1, lng: 1}], routesGroups: [[], []]}]`,
		"not a list":       `panel: 0`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePanels([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestExamplePanelsFileIsValid(t *testing.T) {
	panels, err := LoadPanels(filepath.Join("..", "..", "panels.example.yaml"))
	require.NoError(t, err)
	require.Len(t, panels, 2)
	assert.Equal(t, []string{"5", "6"}, panels[1].Right())
	assert.Empty(t, panels[1].Markers)
}
