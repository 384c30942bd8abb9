package route

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v2"
)

type fileRoute struct {
	ID          string `yaml:"id"`
	Path        string `yaml:"path"`
	URL         string `yaml:"url"`
	StripPrefix *bool  `yaml:"strip_prefix"`
}

type routeFile struct {
	Routes []fileRoute `yaml:"routes"`
}

// LoadFile reads routes from a YAML document of the form
//
//	routes:
//	  - id: orders
//	    path: /orders/**
//	    url: http://orders:8080/orders
//	    strip_prefix: true
//
// strip_prefix defaults to true.
func LoadFile(path string) ([]Route, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route file: %w", err)
	}

	return Parse(raw)
}

// Parse decodes a YAML route document.
func Parse(raw []byte) ([]Route, error) {
	var doc routeFile
	if err := yaml.UnmarshalStrict(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding route file: %w", err)
	}

	routes := make([]Route, 0, len(doc.Routes))
	for i, fr := range doc.Routes {
		strip := true
		if fr.StripPrefix != nil {
			strip = *fr.StripPrefix
		}

		r, err := New(fr.ID, fr.Path, fr.URL, strip)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		r.Source = SourceFile
		routes = append(routes, r)
	}

	return routes, nil
}
