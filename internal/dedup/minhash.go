package dedup

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultJaccardThreshold is the similarity above which two documents
	// are treated as near-duplicates by the MinHash index.
	DefaultJaccardThreshold = 0.8
	// DefaultNumPerm is the number of MinHash permutations.
	DefaultNumPerm = 128

	permSeed = 1
)

// MinHashIndex is a locality-sensitive-hashing index over word-shingled
// documents. It scales near-duplicate clustering sub-linearly across a
// growing corpus where pairwise SimHash comparison would be quadratic:
// the intended use is grouping the same press release as it appears on
// several newswires. Safe for concurrent use.
type MinHashIndex struct {
	mu        sync.Mutex
	threshold float64
	numPerm   int
	bands     int
	rows      int
	permA     []uint64
	permB     []uint64

	signatures map[string][]uint64
	order      []string
	buckets    []map[uint64][]string
}

// NewMinHashIndex builds an empty index. Non-positive arguments fall back
// to DefaultJaccardThreshold and DefaultNumPerm.
func NewMinHashIndex(threshold float64, numPerm int) *MinHashIndex {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultJaccardThreshold
	}
	if numPerm <= 0 {
		numPerm = DefaultNumPerm
	}

	bands, rows := pickBands(threshold, numPerm)

	rng := rand.New(rand.NewSource(permSeed))
	permA := make([]uint64, numPerm)
	permB := make([]uint64, numPerm)
	for i := 0; i < numPerm; i++ {
		permA[i] = rng.Uint64() | 1
		permB[i] = rng.Uint64()
	}

	buckets := make([]map[uint64][]string, bands)
	for i := range buckets {
		buckets[i] = make(map[uint64][]string)
	}

	return &MinHashIndex{
		threshold:  threshold,
		numPerm:    numPerm,
		bands:      bands,
		rows:       rows,
		permA:      permA,
		permB:      permB,
		signatures: make(map[string][]uint64),
		buckets:    buckets,
	}
}

// pickBands chooses the band/row split of numPerm whose LSH threshold
// (1/b)^(1/r) lands closest to the requested Jaccard threshold.
func pickBands(threshold float64, numPerm int) (bands, rows int) {
	bands, rows = numPerm, 1
	best := math.Inf(1)
	for b := 1; b <= numPerm; b++ {
		if numPerm%b != 0 {
			continue
		}
		r := numPerm / b
		approx := math.Pow(1.0/float64(b), 1.0/float64(r))
		if diff := math.Abs(approx - threshold); diff < best {
			best = diff
			bands, rows = b, r
		}
	}
	return bands, rows
}

func (m *MinHashIndex) signature(text string) []uint64 {
	sig := make([]uint64, m.numPerm)
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	seen := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		h := xxhash.Sum64String(tok)
		for i := 0; i < m.numPerm; i++ {
			if g := m.permA[i]*h + m.permB[i]; g < sig[i] {
				sig[i] = g
			}
		}
	}
	return sig
}

func (m *MinHashIndex) bandKey(sig []uint64, band int) uint64 {
	buf := make([]byte, 8*m.rows)
	for i, v := range sig[band*m.rows : (band+1)*m.rows] {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return xxhash.Sum64(buf)
}

func estimateJaccard(a, b []uint64) float64 {
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a))
}

// Add indexes a document under id. Re-adding an id replaces nothing; the
// first signature wins.
func (m *MinHashIndex) Add(id, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.signatures[id]; exists {
		return
	}
	sig := m.signature(text)
	m.signatures[id] = sig
	m.order = append(m.order, id)
	for band := 0; band < m.bands; band++ {
		key := m.bandKey(sig, band)
		m.buckets[band][key] = append(m.buckets[band][key], id)
	}
}

// Query returns the ids of indexed documents that are near-duplicate
// candidates of text, in insertion order.
func (m *MinHashIndex) Query(text string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.query(m.signature(text))
}

// QueryByID returns near-duplicate candidates of an already-indexed
// document, itself included. Unknown ids yield nil.
func (m *MinHashIndex) QueryByID(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.signatures[id]
	if !ok {
		return nil
	}
	return m.query(sig)
}

func (m *MinHashIndex) query(sig []uint64) []string {
	candidates := make(map[string]struct{})
	for band := 0; band < m.bands; band++ {
		for _, id := range m.buckets[band][m.bandKey(sig, band)] {
			candidates[id] = struct{}{}
		}
	}
	var matches []string
	for _, id := range m.order {
		if _, ok := candidates[id]; !ok {
			continue
		}
		if estimateJaccard(sig, m.signatures[id]) >= m.threshold {
			matches = append(matches, id)
		}
	}
	return matches
}

// IsDuplicate reports whether text near-duplicates anything in the index.
func (m *MinHashIndex) IsDuplicate(text string) bool {
	return len(m.Query(text)) > 0
}

// Len returns the number of indexed documents.
func (m *MinHashIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Clusters groups the indexed corpus into connected components of mutual
// near-duplicates. Singleton documents form single-element clusters.
func (m *MinHashIndex) Clusters() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var clusters [][]string
	seen := make(map[string]struct{})
	for _, id := range m.order {
		if _, done := seen[id]; done {
			continue
		}
		cluster := []string{}
		queue := []string{id}
		seen[id] = struct{}{}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			cluster = append(cluster, cur)
			for _, next := range m.query(m.signatures[cur]) {
				if _, done := seen[next]; done {
					continue
				}
				seen[next] = struct{}{}
				queue = append(queue, next)
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}
