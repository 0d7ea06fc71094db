// Package identity derives stable canonical identifiers (domain, E.164
// phone, facility code) from raw source records. Everything here is a pure
// function of its input: no I/O, deterministic, used for both discovery-time
// and merge-time deduplication.
package identity

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// RawRecord is an unnormalized record as discovered at a source.
type RawRecord struct {
	Name        string
	AddressText string
	PhoneText   string
	Website     string
	FacilityRef string
}

// Resolver resolves raw records against a known facility registry.
type Resolver struct {
	facilities map[string]bool
}

// NewResolver creates a Resolver with the given set of known facility codes.
func NewResolver(facilityCodes []string) *Resolver {
	m := make(map[string]bool, len(facilityCodes))
	for _, c := range facilityCodes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			m[c] = true
		}
	}
	return &Resolver{facilities: m}
}

// Resolve produces a best-effort Identity. Each identifier independently
// fails closed to empty when it cannot be derived with certainty.
func (r *Resolver) Resolve(raw RawRecord) model.Identity {
	return model.Identity{
		Domain:       NormalizeDomain(raw.Website),
		PhoneE164:    NormalizePhone(raw.PhoneText),
		FacilityCode: r.matchFacility(raw.FacilityRef),
	}
}

func (r *Resolver) matchFacility(ref string) string {
	code := strings.ToUpper(strings.TrimSpace(ref))
	if code == "" || !r.facilities[code] {
		return ""
	}
	return code
}

// NormalizeDomain strips protocol, www prefix, port, and path from a URL or
// bare hostname. Returns "" when no plausible hostname can be parsed.
func NormalizeDomain(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	host = strings.TrimPrefix(host, "www.")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}
	return host
}

var nonDigitRe = regexp.MustCompile(`\D`)

// NormalizePhone converts a raw phone string to E.164. Only NANP numbers
// are recognized: 10 digits, or 11 digits with a leading 1. Anything else
// fails closed to "" rather than guessing a country code.
func NormalizePhone(raw string) string {
	digits := nonDigitRe.ReplaceAllString(raw, "")

	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return ""
	}
}

// legalSuffixes lists common legal entity suffixes stripped during name
// normalization.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION", " LTD", " LTD.", " LIMITED",
	" CO", " CO.", " ACADEMY OF FLIGHT",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName standardizes a school name for audit-report matching:
// uppercase, diacritics folded, legal suffixes and punctuation removed,
// whitespace collapsed. Not a canonical key; names collide too easily.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(diacriticStripper, name); err == nil {
		name = folded
	}
	name = strings.ToUpper(name)

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
