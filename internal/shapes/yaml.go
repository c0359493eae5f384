package shapes

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Seednode/towerbox/internal/geom"
)

//go:embed default.yaml
var defaultYAML []byte

type yamlCatalog struct {
	Shapes []yamlShape `yaml:"shapes"`
}

type yamlShape struct {
	Name   string      `yaml:"name"`
	Points [][]float64 `yaml:"points"`
}

// Default returns the catalog compiled into the binary.
func Default(opts Options) (*Catalog, error) {
	c, err := parseYAML(defaultYAML, opts)
	if err != nil {
		return nil, fmt.Errorf("default.yaml: %w", err)
	}
	return c, nil
}

func LoadYAML(path string, opts Options) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := parseYAML(raw, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func parseYAML(raw []byte, opts Options) (*Catalog, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	b := &builder{opts: opts}
	for i, s := range doc.Shapes {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("shape-%d", i)
		}

		o := make(geom.Outline, 0, len(s.Points))
		for j, p := range s.Points {
			if len(p) != 2 {
				return nil, fmt.Errorf("shape %q point %d: want [x, y], got %d values", name, j, len(p))
			}
			o = append(o, geom.Point{X: p[0], Y: p[1]})
		}

		if err := b.add(name, o); err != nil {
			return nil, err
		}
	}

	return b.catalog()
}
