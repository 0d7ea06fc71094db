// Package normalize merges per-document SchemaRecords into validated
// NormalizedEntities. Field conflicts resolve by confidence, business rules
// null out implausible values, and cross-field checks flag inconsistencies
// without dropping entities. Every populated field keeps provenance to the
// observation it came from.
package normalize

import (
	"sort"

	"go.uber.org/zap"

	"github.com/wheelsup-data/flightschool-etl/internal/config"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

const (
	// FlagInconsistent marks fields that fail cross-field arithmetic checks.
	FlagInconsistent = "inconsistent"
	// FlagOutlier marks values far outside the population distribution.
	FlagOutlier = "outlier"

	defaultCostTolerance    = 0.20
	defaultOutlierThreshold = 1.5
)

// Normalizer merges and validates extraction output for one snapshot.
type Normalizer struct {
	cfg      config.NormalizeConfig
	registry *model.FieldRegistry
}

// New creates a Normalizer. Zero config values fall back to defaults.
func New(cfg config.NormalizeConfig, registry *model.FieldRegistry) *Normalizer {
	if cfg.CostTolerance <= 0 {
		cfg.CostTolerance = defaultCostTolerance
	}
	if cfg.OutlierThreshold <= 0 {
		cfg.OutlierThreshold = defaultOutlierThreshold
	}
	return &Normalizer{cfg: cfg, registry: registry}
}

// mergedField is a field candidate during merge, before grouping by entity
// type.
type mergedField struct {
	model.NormalizedField
	manual bool
}

// Merge folds every SchemaRecord observed for one canonical school into
// NormalizedEntities, one per entity type that ended up with fields. The
// caller is responsible for the join barrier: records must be the complete
// set for this entity within the snapshot.
func (n *Normalizer) Merge(snapshotID, entityKey string, identity model.Identity, records []model.SchemaRecord) ([]model.NormalizedEntity, []model.Rejection) {
	merged := n.mergeRecords(records)

	rejections := n.applyFieldRules(entityKey, merged)
	n.applyCostConsistency(entityKey, merged)
	n.deriveCostBand(merged)

	// Group surviving fields by registry entity type.
	byType := make(map[string]map[string]model.NormalizedField)
	for key, mf := range merged {
		spec := n.registry.ByKey(key)
		if spec == nil {
			continue
		}
		if byType[spec.EntityType] == nil {
			byType[spec.EntityType] = make(map[string]model.NormalizedField)
		}
		byType[spec.EntityType][key] = mf.NormalizedField
	}

	entities := make([]model.NormalizedEntity, 0, len(byType))
	for entityType, fields := range byType {
		entities = append(entities, model.NormalizedEntity{
			Key:        entityKey,
			Identity:   identity,
			SnapshotID: snapshotID,
			EntityType: entityType,
			Fields:     fields,
		})
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].EntityType < entities[j].EntityType })

	return entities, rejections
}

// mergeRecords resolves field conflicts across records: manual overrides
// always win at confidence 1.0; otherwise the highest confidence wins and
// ties break to the earliest-observed source.
func (n *Normalizer) mergeRecords(records []model.SchemaRecord) map[string]*mergedField {
	ordered := append([]model.SchemaRecord(nil), records...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].AsOf.Before(ordered[j].AsOf) })

	merged := make(map[string]*mergedField)
	for _, rec := range ordered {
		if rec.Abstained {
			continue
		}
		prov := model.Provenance{
			SourceType:       rec.SourceType,
			SourceURL:        rec.SourceURL,
			AsOf:             rec.AsOf,
			ExtractorVersion: rec.ExtractorVersion,
		}
		if rec.Manual {
			prov.SourceType = "manual"
		}

		for key, fv := range rec.Fields {
			if fv.Value == nil {
				continue
			}

			confidence := fv.Confidence
			if rec.Manual {
				confidence = 1.0
			}

			existing, ok := merged[key]
			switch {
			case !ok:
			case existing.manual && !rec.Manual:
				continue
			case rec.Manual && !existing.manual:
				// manual replaces extracted regardless of confidence
			case confidence <= existing.Confidence:
				// tie keeps the earlier observation
				continue
			}

			merged[key] = &mergedField{
				NormalizedField: model.NormalizedField{
					Value:      fv.Value,
					Confidence: confidence,
					Provenance: prov,
				},
				manual: rec.Manual,
			}
		}
	}
	return merged
}

// applyFieldRules runs the business plausibility rules over merged fields.
// A failing field is nulled (deleted) and recorded as a Rejection; the
// entity itself always survives. Manual overrides bypass the rules.
func (n *Normalizer) applyFieldRules(entityKey string, merged map[string]*mergedField) []model.Rejection {
	programType := stringValue(merged, "program_type")

	checks := map[string]func(float64) error{
		"hourly_rate":    func(v float64) error { return validateHourlyRate(v, "single_engine") },
		"total_cost":     func(v float64) error { return validateTotalCost(v, programType) },
		"typical_hours":  func(v float64) error { return validateTrainingHours(v, programType) },
		"duration_weeks": func(v float64) error { return validateTrainingWeeks(v, programType) },
	}

	var rejections []model.Rejection
	for key, check := range checks {
		mf, ok := merged[key]
		if !ok || mf.manual {
			continue
		}
		v, ok := numberValue(mf.Value)
		if !ok {
			continue
		}
		if err := check(v); err != nil {
			rejections = append(rejections, model.Rejection{
				EntityKey: entityKey,
				Field:     key,
				Value:     mf.Value,
				Stage:     "normalize",
				Reason:    err.Error(),
			})
			delete(merged, key)
		}
	}

	if len(rejections) > 0 {
		zap.L().Named("normalize").Info("fields nulled by validation",
			zap.String("entity", entityKey),
			zap.Int("rejections", len(rejections)),
		)
	}
	return rejections
}

// applyCostConsistency cross-checks hourly_rate x typical_hours against the
// stated total_cost. Outside tolerance both fields are flagged inconsistent
// and both confidences are halved; neither is nulled, because there is no
// way to know which one is wrong.
func (n *Normalizer) applyCostConsistency(entityKey string, merged map[string]*mergedField) {
	rate, okRate := fieldNumber(merged, "hourly_rate")
	hours, okHours := fieldNumber(merged, "typical_hours")
	total, okTotal := fieldNumber(merged, "total_cost")
	if !okRate || !okHours || !okTotal || rate <= 0 || hours <= 0 || total <= 0 {
		return
	}

	expected := rate * hours
	variance := abs(total-expected) / expected
	if variance <= n.cfg.CostTolerance {
		return
	}

	zap.L().Named("normalize").Warn("cost inconsistency",
		zap.String("entity", entityKey),
		zap.Float64("expected", expected),
		zap.Float64("stated", total),
		zap.Float64("variance", variance),
	)
	for _, key := range []string{"hourly_rate", "total_cost"} {
		mf := merged[key]
		if mf.manual {
			continue
		}
		mf.Flags = appendFlag(mf.Flags, FlagInconsistent)
		mf.Confidence /= 2
	}
}

// deriveCostBand sets cost_band from total_cost when the band was not
// extracted directly. The derived band inherits the total_cost provenance
// and confidence.
func (n *Normalizer) deriveCostBand(merged map[string]*mergedField) {
	if _, ok := merged["cost_band"]; ok {
		return
	}
	mf, ok := merged["total_cost"]
	if !ok {
		return
	}
	total, ok := numberValue(mf.Value)
	if !ok {
		return
	}

	merged["cost_band"] = &mergedField{
		NormalizedField: model.NormalizedField{
			Value:      costBand(total),
			Confidence: mf.Confidence,
			Provenance: mf.Provenance,
		},
		manual: mf.manual,
	}
}

// FlagOutliers marks population-level outliers across all entities of one
// snapshot using the IQR method. Values are flagged, never nulled: an
// outlier can be a data error or simply an expensive school. Returns the
// number of flags applied.
func (n *Normalizer) FlagOutliers(entities []model.NormalizedEntity) int {
	flagged := 0
	for _, key := range []string{"hourly_rate", "total_cost"} {
		type ref struct {
			entity int
		}
		var values []float64
		var refs []ref
		for i := range entities {
			if f, ok := entities[i].Fields[key]; ok {
				if v, ok := numberValue(f.Value); ok {
					values = append(values, v)
					refs = append(refs, ref{entity: i})
				}
			}
		}

		for _, idx := range detectOutliersIQR(values, n.cfg.OutlierThreshold) {
			ent := &entities[refs[idx].entity]
			f := ent.Fields[key]
			f.Flags = appendFlag(f.Flags, FlagOutlier)
			ent.Fields[key] = f
			flagged++
		}
	}
	if flagged > 0 {
		zap.L().Named("normalize").Info("outliers flagged", zap.Int("count", flagged))
	}
	return flagged
}

func stringValue(merged map[string]*mergedField, key string) string {
	if mf, ok := merged[key]; ok {
		if s, ok := mf.Value.(string); ok {
			return s
		}
	}
	return ""
}

func fieldNumber(merged map[string]*mergedField, key string) (float64, bool) {
	mf, ok := merged[key]
	if !ok {
		return 0, false
	}
	return numberValue(mf.Value)
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
