package resource

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"
)

func Load(path string) (Configs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a resource file where every top level key names a resource.
// The returned configs are ordered by name.
func Parse(data []byte) (Configs, error) {
	var cfg map[string]*Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	resources := make(Configs, 0, len(cfg))
	for name, rc := range cfg {
		if rc == nil {
			rc = &Config{}
		}
		rc.Resource = name
		resources = append(resources, rc)
	}

	sort.Slice(resources, func(i, j int) bool {
		return resources[i].Resource < resources[j].Resource
	})

	return resources, nil
}
