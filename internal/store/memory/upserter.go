// Package memory provides an in-process Upserter used by dry runs,
// tests, and single-shot CLI invocations that have no database.
package memory

import (
	"context"
	"sync"

	"github.com/bioterminal/content-scraper/internal/scraper"
)

// Upserter stores results keyed by content hash.
type Upserter struct {
	mu       sync.Mutex
	byHash   map[string]*scraper.ScraperResult
	inserted int
	updated  int
}

// New returns an empty Upserter.
func New() *Upserter {
	return &Upserter{byHash: make(map[string]*scraper.ScraperResult)}
}

// Upsert implements scraper.Upserter. Re-upserting a known hash
// replaces the stored record instead of duplicating it.
func (u *Upserter) Upsert(_ context.Context, result *scraper.ScraperResult, dryRun bool) error {
	if dryRun {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.byHash[result.Hash]; exists {
		u.updated++
	} else {
		u.inserted++
	}
	u.byHash[result.Hash] = result
	return nil
}

// Get returns the stored record for a hash.
func (u *Upserter) Get(hash string) (*scraper.ScraperResult, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.byHash[hash]
	return r, ok
}

// Len reports the number of distinct records stored.
func (u *Upserter) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.byHash)
}

// Counts reports cumulative insert and update totals.
func (u *Upserter) Counts() (inserted, updated int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inserted, u.updated
}

var _ scraper.Upserter = (*Upserter)(nil)
