// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package watch

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/internal/pipeline"
)

// SavedQuery is one entry of the watch list. Name labels the query in the
// archive, so renaming a query starts its history over.
type SavedQuery struct {
	Name             string `yaml:"name"`
	pipeline.Request `yaml:",inline"`
}

// QueryFile is the on-disk watch list.
type QueryFile struct {
	Queries []SavedQuery `yaml:"queries"`
}

// LoadQueries reads and validates a watch list.
func LoadQueries(path string) ([]SavedQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading watch list: %w", err)
	}
	var qf QueryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parsing watch list: %w", err)
	}

	seen := make(map[string]bool)
	for i, q := range qf.Queries {
		switch {
		case q.Name == "":
			return nil, fmt.Errorf("watch list entry %d has no name", i+1)
		case seen[q.Name]:
			return nil, fmt.Errorf("duplicate watch list name %q", q.Name)
		case q.Question == "" && q.PICO == nil:
			return nil, fmt.Errorf("watch list entry %q has neither question nor pico", q.Name)
		}
		seen[q.Name] = true
	}
	return qf.Queries, nil
}
