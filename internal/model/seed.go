package model

import "time"

// Identity is the set of canonical identifiers for one real-world school.
// Empty string means "unknown" for that identifier; an Identity with all
// three empty cannot participate in deduplication.
type Identity struct {
	Domain       string `json:"domain,omitempty"`
	PhoneE164    string `json:"phone_e164,omitempty"`
	FacilityCode string `json:"facility_code,omitempty"`
}

// Empty reports whether no canonical identifier could be derived.
func (id Identity) Empty() bool {
	return id.Domain == "" && id.PhoneE164 == "" && id.FacilityCode == ""
}

// Matches reports whether two identities share at least one non-empty
// canonical identifier.
func (id Identity) Matches(other Identity) bool {
	if id.Domain != "" && id.Domain == other.Domain {
		return true
	}
	if id.PhoneE164 != "" && id.PhoneE164 == other.PhoneE164 {
		return true
	}
	if id.FacilityCode != "" && id.FacilityCode == other.FacilityCode {
		return true
	}
	return false
}

// merge fills empty identifiers from other. Existing values are kept.
func (id Identity) merge(other Identity) Identity {
	if id.Domain == "" {
		id.Domain = other.Domain
	}
	if id.PhoneE164 == "" {
		id.PhoneE164 = other.PhoneE164
	}
	if id.FacilityCode == "" {
		id.FacilityCode = other.FacilityCode
	}
	return id
}

// Key returns a stable dedup key, preferring domain, then phone, then
// facility code.
func (id Identity) Key() string {
	switch {
	case id.Domain != "":
		return "domain:" + id.Domain
	case id.PhoneE164 != "":
		return "phone:" + id.PhoneE164
	case id.FacilityCode != "":
		return "facility:" + id.FacilityCode
	default:
		return ""
	}
}

// SeedRecord is one candidate school to crawl, after deduplication.
type SeedRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Identity     Identity  `json:"identity"`
	SourceID     string    `json:"source_id"` // primary (highest trust tier)
	URLs         []string  `json:"urls"`      // all crawl targets, deduped
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Merge folds another seed into this one: URLs are unioned, identifiers
// filled in, and the higher-trust source becomes primary.
func (s *SeedRecord) Merge(other SeedRecord, otherTier, ownTier int) {
	s.Identity = s.Identity.merge(other.Identity)

	seen := make(map[string]bool, len(s.URLs))
	for _, u := range s.URLs {
		seen[u] = true
	}
	for _, u := range other.URLs {
		if !seen[u] {
			s.URLs = append(s.URLs, u)
			seen[u] = true
		}
	}

	if otherTier > ownTier {
		s.SourceID = other.SourceID
		if other.Name != "" {
			s.Name = other.Name
		}
	} else if s.Name == "" {
		s.Name = other.Name
	}

	if other.DiscoveredAt.Before(s.DiscoveredAt) {
		s.DiscoveredAt = other.DiscoveredAt
	}
}
