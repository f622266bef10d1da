package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Marker struct {
	Lat      float64 `yaml:"lat" json:"lat" validate:"latitude"`
	Lng      float64 `yaml:"lng" json:"lng" validate:"longitude"`
	IconPath string  `yaml:"iconPath" json:"iconPath"`
	Name     string  `yaml:"name" json:"name" validate:"required"`
}

// Panel is one dashboard page: the map bounds and markers shown while
// it has focus, and the route ids listed on its left and right side.
type Panel struct {
	Panel        int        `yaml:"panel" json:"panel" validate:"gte=0"`
	NorthEastLat float64    `yaml:"northEastLat" json:"northEastLat" validate:"latitude"`
	NorthEastLng float64    `yaml:"northEastLng" json:"northEastLng" validate:"longitude"`
	SouthWestLat float64    `yaml:"southWestLat" json:"southWestLat" validate:"latitude,ltefield=NorthEastLat"`
	SouthWestLng float64    `yaml:"southWestLng" json:"southWestLng" validate:"longitude"`
	Markers      []Marker   `yaml:"markers" json:"markers" validate:"dive"`
	RoutesGroups [][]string `yaml:"routesGroups" json:"routesGroups" validate:"len=2,dive,dive,required"`
}

func (p Panel) Left() []string  { return p.RoutesGroups[0] }
func (p Panel) Right() []string { return p.RoutesGroups[1] }

// LoadPanels reads and validates the panels file. At least one panel is
// required.
func LoadPanels(path string) ([]Panel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePanels(data)
}

func ParsePanels(data []byte) ([]Panel, error) {
	var panels []Panel
	if err := yaml.Unmarshal(data, &panels); err != nil {
		return nil, fmt.Errorf("parse panels: %w", err)
	}
	if len(panels) == 0 {
		return nil, fmt.Errorf("no panels configured")
	}
	v := validator.New()
	for i, p := range panels {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("panel %d: %w", i, err)
		}
	}
	return panels, nil
}
