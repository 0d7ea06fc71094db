// Package catalog builds the deduplicated seed list that drives a snapshot
// run. It enumerates candidates per configured source, resolves canonical
// identifiers, and merges seeds that refer to the same real-world school.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wheelsup-data/flightschool-etl/internal/identity"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// Candidate is one entity discovered at a source, before deduplication.
type Candidate struct {
	Raw identity.RawRecord
	URL string
}

// Lister enumerates candidate entities for one source. The static
// implementation just lists configured URLs; richer sources can provide
// their own discovery capability.
type Lister interface {
	List(ctx context.Context, source model.Source) ([]Candidate, error)
}

// StaticLister treats each configured base URL as one candidate whose
// website is the URL itself.
type StaticLister struct{}

// List implements Lister.
func (StaticLister) List(_ context.Context, source model.Source) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(source.BaseURLs))
	for _, u := range source.BaseURLs {
		candidates = append(candidates, Candidate{
			Raw: identity.RawRecord{Website: u},
			URL: u,
		})
	}
	return candidates, nil
}

// MergeDecision records one dedup merge for the audit trail.
type MergeDecision struct {
	IdentityKey  string `json:"identity_key"`
	SeedID       string `json:"seed_id"`
	FromSourceID string `json:"from_source_id"`
	IntoSourceID string `json:"into_source_id"`
	MergedURL    string `json:"merged_url,omitempty"`
}

// DiscoveryReport summarizes one catalog build for audit.
type DiscoveryReport struct {
	SourceCounts   map[string]int  `json:"source_counts"`
	SkippedSources []string        `json:"skipped_sources,omitempty"`
	Merges         []MergeDecision `json:"merges,omitempty"`
	TotalSeeds     int             `json:"total_seeds"`
}

// Builder builds seed catalogs.
type Builder struct {
	resolver *identity.Resolver
	lister   Lister
	now      func() time.Time
}

// NewBuilder creates a Builder. If lister is nil, StaticLister is used.
func NewBuilder(resolver *identity.Resolver, lister Lister) *Builder {
	if lister == nil {
		lister = StaticLister{}
	}
	return &Builder{resolver: resolver, lister: lister, now: time.Now}
}

// BuildSeeds enumerates and deduplicates seeds across all sources. An
// unreachable source listing is logged and skipped, never fatal. Two seeds
// sharing any non-empty canonical identifier are merged into one record
// carrying the union of URLs, with the highest-trust-tier source as primary.
func (b *Builder) BuildSeeds(ctx context.Context, sources []model.Source) ([]model.SeedRecord, *DiscoveryReport, error) {
	report := &DiscoveryReport{SourceCounts: make(map[string]int)}

	var seeds []*model.SeedRecord
	tiers := make(map[string]int)     // seed id → primary source trust tier
	absorbed := make(map[string]bool) // seed ids folded into another seed
	byDomain := make(map[string]*model.SeedRecord)
	byPhone := make(map[string]*model.SeedRecord)
	byFacility := make(map[string]*model.SeedRecord)

	log := zap.L().Named("catalog")

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		candidates, err := b.lister.List(ctx, src)
		if err != nil {
			log.Warn("source listing unreachable, skipping",
				zap.String("source", src.ID),
				zap.Error(err),
			)
			report.SkippedSources = append(report.SkippedSources, src.ID)
			continue
		}

		for _, cand := range candidates {
			id := b.resolver.Resolve(cand.Raw)
			report.SourceCounts[src.ID]++

			matched := lookup(id, byDomain, byPhone, byFacility)
			if len(matched) == 0 {
				seed := &model.SeedRecord{
					ID:           uuid.New().String(),
					Name:         cand.Raw.Name,
					Identity:     id,
					SourceID:     src.ID,
					URLs:         []string{cand.URL},
					DiscoveredAt: b.now(),
				}
				seeds = append(seeds, seed)
				tiers[seed.ID] = src.TrustTier
				index(id, seed, byDomain, byPhone, byFacility)
				continue
			}

			incoming := model.SeedRecord{
				Name:         cand.Raw.Name,
				Identity:     id,
				SourceID:     src.ID,
				URLs:         []string{cand.URL},
				DiscoveredAt: b.now(),
			}
			primary := matched[0]
			prevSource := primary.SourceID
			primary.Merge(incoming, src.TrustTier, tiers[primary.ID])
			if src.TrustTier > tiers[primary.ID] {
				tiers[primary.ID] = src.TrustTier
			}
			report.Merges = append(report.Merges, MergeDecision{
				IdentityKey:  id.Key(),
				SeedID:       primary.ID,
				FromSourceID: src.ID,
				IntoSourceID: prevSource,
				MergedURL:    cand.URL,
			})

			// A candidate carrying identifiers from several seeds links
			// them: fold the rest into the first match so every canonical
			// identifier maps to exactly one output seed.
			for _, other := range matched[1:] {
				primary.Merge(*other, tiers[other.ID], tiers[primary.ID])
				if tiers[other.ID] > tiers[primary.ID] {
					tiers[primary.ID] = tiers[other.ID]
				}
				absorbed[other.ID] = true
				index(other.Identity, primary, byDomain, byPhone, byFacility)
				report.Merges = append(report.Merges, MergeDecision{
					IdentityKey:  id.Key(),
					SeedID:       primary.ID,
					FromSourceID: other.SourceID,
					IntoSourceID: primary.SourceID,
				})
			}
			index(id, primary, byDomain, byPhone, byFacility)
			index(primary.Identity, primary, byDomain, byPhone, byFacility)
		}
	}

	out := make([]model.SeedRecord, 0, len(seeds))
	for _, s := range seeds {
		if absorbed[s.ID] {
			continue
		}
		out = append(out, *s)
	}
	report.TotalSeeds = len(out)

	log.Info("seed catalog built",
		zap.Int("seeds", report.TotalSeeds),
		zap.Int("merges", len(report.Merges)),
		zap.Int("skipped_sources", len(report.SkippedSources)),
	)
	return out, report, nil
}

// lookup returns every distinct seed sharing an identifier with id. More
// than one match means the incoming candidate bridges seeds that were not
// known to be the same school until now.
func lookup(id model.Identity, byDomain, byPhone, byFacility map[string]*model.SeedRecord) []*model.SeedRecord {
	var out []*model.SeedRecord
	seen := make(map[string]bool, 3)
	add := func(s *model.SeedRecord, ok bool) {
		if ok && !seen[s.ID] {
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	if id.Domain != "" {
		s, ok := byDomain[id.Domain]
		add(s, ok)
	}
	if id.PhoneE164 != "" {
		s, ok := byPhone[id.PhoneE164]
		add(s, ok)
	}
	if id.FacilityCode != "" {
		s, ok := byFacility[id.FacilityCode]
		add(s, ok)
	}
	return out
}

// index points every non-empty identifier of id at s, including identifiers
// of absorbed seeds so later candidates land on the surviving record.
func index(id model.Identity, s *model.SeedRecord, byDomain, byPhone, byFacility map[string]*model.SeedRecord) {
	if id.Domain != "" {
		byDomain[id.Domain] = s
	}
	if id.PhoneE164 != "" {
		byPhone[id.PhoneE164] = s
	}
	if id.FacilityCode != "" {
		byFacility[id.FacilityCode] = s
	}
}
