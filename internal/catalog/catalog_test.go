package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelsup-data/flightschool-etl/internal/identity"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

type fakeLister struct {
	candidates map[string][]Candidate
	errs       map[string]error
}

func (f *fakeLister) List(_ context.Context, src model.Source) ([]Candidate, error) {
	if err := f.errs[src.ID]; err != nil {
		return nil, err
	}
	return f.candidates[src.ID], nil
}

func newTestBuilder(lister Lister) *Builder {
	return NewBuilder(identity.NewResolver([]string{"KAPA"}), lister)
}

func TestBuildSeeds_DedupByDomain(t *testing.T) {
	lister := &fakeLister{candidates: map[string][]Candidate{
		"directory": {
			{Raw: identity.RawRecord{Name: "Skybound", Website: "https://www.skybound.com"}, URL: "https://www.skybound.com"},
		},
		"official": {
			{Raw: identity.RawRecord{Name: "Skybound Aviation", Website: "http://skybound.com/programs"}, URL: "http://skybound.com/programs"},
		},
	}}
	sources := []model.Source{
		{ID: "directory", TrustTier: 1},
		{ID: "official", TrustTier: 3},
	}

	seeds, report, err := newTestBuilder(lister).BuildSeeds(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, seeds, 1, "same canonical domain must yield exactly one merged seed")

	seed := seeds[0]
	assert.Equal(t, "official", seed.SourceID, "highest trust tier becomes primary")
	assert.ElementsMatch(t, []string{"https://www.skybound.com", "http://skybound.com/programs"}, seed.URLs,
		"both URLs retained as crawl targets")
	assert.Len(t, report.Merges, 1)
	assert.Equal(t, "domain:skybound.com", report.Merges[0].IdentityKey)
}

func TestBuildSeeds_DedupByPhoneAcrossFormats(t *testing.T) {
	lister := &fakeLister{candidates: map[string][]Candidate{
		"a": {{Raw: identity.RawRecord{PhoneText: "(555) 123-4567", Website: "site-one.com"}, URL: "https://site-one.com"}},
		"b": {{Raw: identity.RawRecord{PhoneText: "1.555.123.4567", Website: "site-two.com"}, URL: "https://site-two.com"}},
	}}
	sources := []model.Source{{ID: "a", TrustTier: 1}, {ID: "b", TrustTier: 1}}

	seeds, _, err := newTestBuilder(lister).BuildSeeds(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, seeds, 1, "different phone formats normalizing to the same E.164 value merge")
	assert.Equal(t, "+15551234567", seeds[0].Identity.PhoneE164)
	assert.Len(t, seeds[0].URLs, 2)
}

func TestBuildSeeds_BridgingCandidateFoldsSeeds(t *testing.T) {
	// Seed A carries only a domain, seed B only a phone. The third candidate
	// carries both, proving A and B are the same school: the output must
	// collapse to exactly one seed per canonical identifier.
	lister := &fakeLister{candidates: map[string][]Candidate{
		"domain_only": {
			{Raw: identity.RawRecord{Name: "Alpha Flight", Website: "https://alpha.example.com"}, URL: "https://alpha.example.com"},
		},
		"phone_only": {
			{Raw: identity.RawRecord{Name: "Alpha Aviation", PhoneText: "(555) 123-4567", Website: "not a url"}, URL: "https://directory.example/alpha"},
		},
		"both": {
			{Raw: identity.RawRecord{Name: "Alpha Flight Academy", Website: "alpha.example.com/contact", PhoneText: "555-123-4567"}, URL: "https://alpha.example.com/contact"},
		},
	}}
	sources := []model.Source{
		{ID: "domain_only", TrustTier: 1},
		{ID: "phone_only", TrustTier: 3},
		{ID: "both", TrustTier: 2},
	}

	seeds, report, err := newTestBuilder(lister).BuildSeeds(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, seeds, 1, "a candidate matching two seeds must fold them into one")

	seed := seeds[0]
	assert.Equal(t, "alpha.example.com", seed.Identity.Domain)
	assert.Equal(t, "+15551234567", seed.Identity.PhoneE164)
	assert.Equal(t, "phone_only", seed.SourceID, "highest tier among folded seeds stays primary")
	assert.ElementsMatch(t, []string{
		"https://alpha.example.com",
		"https://directory.example/alpha",
		"https://alpha.example.com/contact",
	}, seed.URLs)
	assert.Len(t, report.Merges, 2, "one merge for the candidate, one for the absorbed seed")
	assert.Equal(t, 1, report.TotalSeeds)
}

func TestBuildSeeds_LaterCandidatesLandOnSurvivingSeed(t *testing.T) {
	lister := &fakeLister{candidates: map[string][]Candidate{
		"a": {{Raw: identity.RawRecord{Website: "https://alpha.example.com"}, URL: "https://alpha.example.com"}},
		"b": {{Raw: identity.RawRecord{PhoneText: "555-123-4567", Website: "not a url"}, URL: "https://dir.example/alpha"}},
		"c": {{Raw: identity.RawRecord{Website: "alpha.example.com", PhoneText: "555-123-4567"}, URL: "https://alpha.example.com/rates"}},
		// arrives after the fold, matching only the absorbed seed's phone
		"d": {{Raw: identity.RawRecord{PhoneText: "(555) 123-4567", Website: "bad"}, URL: "https://other.example/listing"}},
	}}
	sources := []model.Source{
		{ID: "a", TrustTier: 1}, {ID: "b", TrustTier: 1},
		{ID: "c", TrustTier: 1}, {ID: "d", TrustTier: 1},
	}

	seeds, _, err := newTestBuilder(lister).BuildSeeds(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Contains(t, seeds[0].URLs, "https://other.example/listing")
}

func TestBuildSeeds_Idempotent(t *testing.T) {
	lister := &fakeLister{candidates: map[string][]Candidate{
		"src": {
			{Raw: identity.RawRecord{Website: "one.com"}, URL: "https://one.com"},
			{Raw: identity.RawRecord{Website: "one.com"}, URL: "https://one.com"},
			{Raw: identity.RawRecord{Website: "two.com"}, URL: "https://two.com"},
		},
	}}
	sources := []model.Source{{ID: "src", TrustTier: 1}}

	first, _, err := newTestBuilder(lister).BuildSeeds(context.Background(), sources)
	require.NoError(t, err)
	second, _, err := newTestBuilder(lister).BuildSeeds(context.Background(), sources)
	require.NoError(t, err)

	assert.Len(t, first, 2)
	assert.Len(t, second, 2, "rebuilding the catalog yields the same seed count")
}

func TestBuildSeeds_UnreachableSourceSkipped(t *testing.T) {
	lister := &fakeLister{
		candidates: map[string][]Candidate{
			"good": {{Raw: identity.RawRecord{Website: "ok.com"}, URL: "https://ok.com"}},
		},
		errs: map[string]error{"bad": errors.New("connection refused")},
	}
	sources := []model.Source{{ID: "bad", TrustTier: 2}, {ID: "good", TrustTier: 1}}

	seeds, report, err := newTestBuilder(lister).BuildSeeds(context.Background(), sources)
	require.NoError(t, err, "an unreachable listing never aborts the build")
	assert.Len(t, seeds, 1)
	assert.Equal(t, []string{"bad"}, report.SkippedSources)
}

func TestBuildSeeds_NoIdentifiersNeverMerge(t *testing.T) {
	lister := &fakeLister{candidates: map[string][]Candidate{
		"src": {
			{Raw: identity.RawRecord{Name: "Mystery School A"}, URL: "https://a.example/path1"},
			{Raw: identity.RawRecord{Name: "Mystery School B"}, URL: "https://b.example/path2"},
		},
	}}
	// Raw URLs here produce valid domains, so force empty identity via bad data.
	lister.candidates["src"][0].Raw.Website = "not a url"
	lister.candidates["src"][1].Raw.Website = "also not"

	seeds, _, err := newTestBuilder(lister).BuildSeeds(context.Background(), []model.Source{{ID: "src"}})
	require.NoError(t, err)
	assert.Len(t, seeds, 2, "seeds with no canonical identifiers must not merge")
}
