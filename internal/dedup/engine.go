package dedup

import "sync"

// Engine is the process-wide duplicate detector. One instance is built
// at startup and shared by every pipeline, so a press release
// re-syndicated across sources is caught no matter which source
// delivers it first. Detectors run in cost order: exact content hash,
// simhash Hamming distance, then minhash LSH.
type Engine struct {
	mu           sync.Mutex
	seenHashes   map[string]bool
	fingerprints []string
	minhash      *MinHashIndex
}

// NewEngine creates an empty Engine with the default simhash and
// minhash thresholds.
func NewEngine() *Engine {
	return &Engine{
		seenHashes: make(map[string]bool),
		minhash:    NewMinHashIndex(0, 0),
	}
}

// Register runs the detectors against a document and records it when it
// is novel. Returns the name of the detector that fired, or "" for
// novel content.
func (e *Engine) Register(hash, fingerprint, text string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seenHashes[hash] {
		return "hash"
	}
	for _, fp := range e.fingerprints {
		if IsNearDuplicate(fp, fingerprint, 0) {
			return "simhash"
		}
	}
	if e.minhash.IsDuplicate(text) {
		return "minhash"
	}

	e.seenHashes[hash] = true
	e.fingerprints = append(e.fingerprints, fingerprint)
	e.minhash.Add(hash, text)
	return ""
}

// Len reports how many distinct documents the engine has registered.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seenHashes)
}

// Clusters exposes the minhash near-duplicate clusters over every
// registered document.
func (e *Engine) Clusters() [][]string {
	return e.minhash.Clusters()
}
