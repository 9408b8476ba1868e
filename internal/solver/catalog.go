package solver

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/decisionhub/backend/internal/params"
	"github.com/decisionhub/backend/internal/storage/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Models []*models.IssueModel `yaml:"models"`
}

// LoadCatalog reads the model catalog at path, or the built-in one when path
// is empty.
func LoadCatalog(path string) ([]*models.IssueModel, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) ([]*models.IssueModel, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("catalog declares no models")
	}

	seen := make(map[string]bool, len(f.Models))
	for _, m := range f.Models {
		if m.Name == "" || m.Endpoint == "" {
			return nil, fmt.Errorf("catalog model needs a name and an endpoint")
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate catalog model %q", m.Name)
		}
		seen[m.Name] = true

		for _, p := range m.Parameters {
			switch p.Type {
			case models.ParamNumber, models.ParamArray, models.ParamFuzzyArray:
			default:
				return nil, fmt.Errorf("model %q: parameter %q has unknown type %q", m.Name, p.Name, p.Type)
			}
			if p.Default == nil {
				continue
			}
			if _, err := params.Decode(p.Name, p.Type, p.Default); err != nil {
				return nil, fmt.Errorf("model %q: bad default: %w", m.Name, err)
			}
		}
	}
	return f.Models, nil
}
