package pipeline

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

type overridesFile struct {
	Overrides []overrideEntry `yaml:"overrides"`
}

type overrideEntry struct {
	Identity model.Identity `yaml:"identity"`
	Fields   map[string]any `yaml:"fields"`
	Note     string         `yaml:"note"`
}

// LoadManualOverrides reads operator-verified field values from a YAML file
// and converts them into manual SchemaRecords. Manual records carry
// confidence 1.0, bypass validation, and always win field merges. A missing
// file means no overrides.
func LoadManualOverrides(path string, now time.Time) ([]model.SchemaRecord, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read overrides %s", path)
	}

	var f overridesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse overrides %s", path)
	}

	records := make([]model.SchemaRecord, 0, len(f.Overrides))
	for i, o := range f.Overrides {
		if o.Identity.Empty() {
			return nil, eris.Errorf("pipeline: override %d has no canonical identifier", i)
		}
		fields := make(map[string]model.FieldValue, len(o.Fields))
		for k, v := range o.Fields {
			fields[k] = model.FieldValue{Value: v, Confidence: 1.0}
		}
		records = append(records, model.SchemaRecord{
			Identity:   o.Identity,
			SourceType: "manual",
			AsOf:       now,
			Fields:     fields,
			Manual:     true,
		})
	}
	return records, nil
}
