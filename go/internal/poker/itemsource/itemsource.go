package itemsource

import (
	"context"
	"fmt"
	"os"

	"github.com/scrumdeck/scrumdeck/go/internal/models"
	"gopkg.in/yaml.v3"
)

// Source provides the already-shaped item list used to seed the global
// estimation queue. Fetching and transforming items from a real issue
// tracker lives behind this port, outside the session engine.
type Source interface {
	Items(ctx context.Context) ([]models.Item, error)
}

// FileSource reads seed items from a YAML file.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by the given YAML file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Items loads and parses the seed file.
func (f *FileSource) Items(_ context.Context) ([]models.Item, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var doc struct {
		Items []models.Item `yaml:"items"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return doc.Items, nil
}
