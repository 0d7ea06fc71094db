package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CrawlMethod selects how a source's pages are fetched.
type CrawlMethod string

const (
	CrawlStatic  CrawlMethod = "static"
	CrawlBrowser CrawlMethod = "browser"
)

// Source is a configured origin of flight-school data. Immutable once a
// run starts.
type Source struct {
	ID         string      `yaml:"id"`
	Name       string      `yaml:"name"`
	SourceType string      `yaml:"source_type"` // directory, official, metadata, ugc
	BaseURLs   []string    `yaml:"base_urls"`
	Method     CrawlMethod `yaml:"crawl_method"`
	TrustTier  int         `yaml:"trust_tier"` // higher wins merge conflicts
	RatePerSec float64     `yaml:"rate_per_sec"`
	Burst      int         `yaml:"burst"`
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads source definitions from a YAML catalog file.
func LoadSources(path string) ([]Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read sources %s", path)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "model: parse sources %s", path)
	}

	for i := range f.Sources {
		if f.Sources[i].Method == "" {
			f.Sources[i].Method = CrawlStatic
		}
	}
	return f.Sources, nil
}
