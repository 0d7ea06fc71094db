package identity

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

type facilityFile struct {
	Facilities []string `yaml:"facilities"`
}

// LoadFacilityCodes reads the known FAA facility identifier registry from a
// YAML file. A missing file is an error; an empty registry just means no
// facility codes will ever match.
func LoadFacilityCodes(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "identity: read facility registry %s", path)
	}

	var f facilityFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "identity: parse facility registry %s", path)
	}
	return f.Facilities, nil
}
