package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vulnscanio/engine/pkg/domain/scan"
)

// duration decodes YAML strings like "30s" or "5m".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// profileFile is the YAML shape of a profile override entry.
type profileFile struct {
	Profiles []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Modules     []string `yaml:"modules"`
		Estimated   duration `yaml:"estimated"`
	} `yaml:"profiles"`
}

// LoadProfiles returns the scan profile catalog, overlaying entries from the
// configured YAML file on top of the built-in profiles. A missing file is not
// an error; the built-ins apply unchanged.
func LoadProfiles(path string) (*scan.Profiles, error) {
	catalog := scan.DefaultProfiles()

	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return catalog, nil
		}
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing profiles file: %w", err)
	}

	for _, p := range file.Profiles {
		override := scan.Profile{
			Name:        p.Name,
			Description: p.Description,
			Modules:     p.Modules,
			Estimated:   time.Duration(p.Estimated),
		}
		if err := catalog.Override(override); err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}

	return catalog, nil
}
