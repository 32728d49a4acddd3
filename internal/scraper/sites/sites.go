// Package sites catalogs per-source pipeline behavior: what content
// type a source yields, how it prefers to be discovered, and any
// site-specific normalization quirks. Unknown sources fall back to the
// generic article profile.
package sites

import (
	"regexp"
	"strings"

	"github.com/bioterminal/content-scraper/internal/registry"
	"github.com/bioterminal/content-scraper/internal/scraper"
)

var profiles = map[string]scraper.Profile{
	"fierce": {
		ContentType:   scraper.ContentTypeArticle,
		DefaultMethod: scraper.MethodRSS,
		ExtraTags:     []string{"industry-news"},
	},
	"fiercebiotech": {
		ContentType:   scraper.ContentTypeArticle,
		DefaultMethod: scraper.MethodRSS,
		ExtraTags:     []string{"industry-news"},
	},
	"fiercepharma": {
		ContentType:   scraper.ContentTypeArticle,
		DefaultMethod: scraper.MethodRSS,
		ExtraTags:     []string{"industry-news"},
	},
	"businesswire": {
		ContentType:   scraper.ContentTypePressRelease,
		DefaultMethod: scraper.MethodRSS,
		ExtraTags:     []string{"press-release"},
	},
	"globenewswire": {
		ContentType:   scraper.ContentTypePressRelease,
		DefaultMethod: scraper.MethodRSS,
		ExtraTags:     []string{"press-release"},
	},
	"prnewswire": {
		ContentType:   scraper.ContentTypePressRelease,
		DefaultMethod: scraper.MethodRSS,
		ExtraTags:     []string{"press-release"},
	},
	"fda": {
		ContentType:   scraper.ContentTypeRegulatory,
		DefaultMethod: scraper.MethodSitemap,
		ExtraTags:     []string{"regulatory"},
	},
	"ema": {
		ContentType:   scraper.ContentTypeRegulatory,
		DefaultMethod: scraper.MethodSitemap,
		ExtraTags:     []string{"regulatory"},
	},
	"mhra": {
		ContentType:   scraper.ContentTypeRegulatory,
		DefaultMethod: scraper.MethodArchive,
		ExtraTags:     []string{"regulatory"},
	},
	"clinicaltrials": {
		ContentType:   scraper.ContentTypeClinicalTrial,
		DefaultMethod: scraper.MethodURL,
		ExtraTags:     []string{"clinical"},
		PostNormalize: clinicalTrialFields,
	},
	"edgar": {
		ContentType:   scraper.ContentTypeCatalyst,
		DefaultMethod: scraper.MethodURL,
		ExtraTags:     []string{"filing"},
		PostNormalize: edgarFields,
	},
}

// Build constructs a pipeline for a registry source using its catalog
// profile. Composition is flat: the profile only parameterizes the
// generic pipeline, it never subclasses it.
func Build(src registry.Source, opts scraper.Options) (*scraper.Pipeline, error) {
	opts.Profile = ProfileFor(src.SourceKey)
	return scraper.NewPipeline(src, opts)
}

// ProfileFor returns the catalog profile for a source key, or the
// generic article profile when the key is unknown.
func ProfileFor(sourceKey string) scraper.Profile {
	if p, ok := profiles[sourceKey]; ok {
		return p
	}
	return scraper.Profile{ContentType: scraper.ContentTypeArticle}
}

// Known returns whether a source key has a dedicated profile.
func Known(sourceKey string) bool {
	_, ok := profiles[sourceKey]
	return ok
}

var nctPattern = regexp.MustCompile(`NCT\d{8}`)

// clinicalTrialFields lifts the NCT identifier out of the page when the
// title, URL, or body carries one.
func clinicalTrialFields(parsed *scraper.ParsedFields, result *scraper.ScraperResult) {
	if id := nctPattern.FindString(parsed.Title + " " + parsed.URL + " " + parsed.Content); id != "" {
		result.Data["nct_id"] = id
	}
}

// edgarFields tags the filing form type when the title announces one.
var edgarForms = []string{"8-K", "10-K", "10-Q", "S-1", "424B5", "13D", "13G"}

func edgarFields(parsed *scraper.ParsedFields, result *scraper.ScraperResult) {
	title := strings.ToUpper(parsed.Title)
	for _, form := range edgarForms {
		if strings.Contains(title, form) {
			result.Data["form_type"] = form
			return
		}
	}
}
