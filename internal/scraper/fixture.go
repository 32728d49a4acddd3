package scraper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FixtureBundle is the on-disk shape of a saved fixture: enough to
// replay parse and normalize offline against the exact bytes fetched.
type FixtureBundle struct {
	URL        string         `json:"url"`
	SourceKey  string         `json:"source_key"`
	RawHTML    string         `json:"raw_html"`
	Parsed     *ParsedFields  `json:"parsed"`
	Normalized *ScraperResult `json:"normalized"`
	ScrapedAt  time.Time      `json:"scraped_at"`
}

// FixtureStore writes scrape fixtures under root/<source_key>/<YYYYMMDD>/.
type FixtureStore struct {
	root string
}

// NewFixtureStore returns a store rooted at dir.
func NewFixtureStore(dir string) *FixtureStore {
	return &FixtureStore{root: dir}
}

// Save writes one fixture and returns its path. The file name is the
// content hash, so re-saving identical content overwrites in place
// instead of accumulating copies.
func (f *FixtureStore) Save(sourceKey string, parsed *ParsedFields, result *ScraperResult) (string, error) {
	if result == nil || result.Hash == "" {
		return "", fmt.Errorf("fixture requires a hashed result")
	}

	dir := filepath.Join(f.root, sourceKey, result.ScrapedAt.UTC().Format("20060102"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create fixture dir %s: %w", dir, err)
	}

	bundle := FixtureBundle{
		URL:        result.URL,
		SourceKey:  sourceKey,
		RawHTML:    result.RawHTML,
		Parsed:     parsed,
		Normalized: result,
		ScrapedAt:  result.ScrapedAt,
	}
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal fixture for %s: %w", result.URL, err)
	}

	path := filepath.Join(dir, result.Hash+".json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", fmt.Errorf("write fixture %s: %w", path, err)
	}
	return path, nil
}

// Load reads a fixture bundle back from disk.
func (f *FixtureStore) Load(path string) (*FixtureBundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var bundle FixtureBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &bundle, nil
}
