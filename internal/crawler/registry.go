package crawler

import (
	"sort"
	"sync"
)

// Registry holds one ResourceRecord per distinct resource URL. The first
// record for a URL wins, including its FoundOn provenance; later references
// to the same URL are reported as duplicates.
type Registry struct {
	mu      sync.Mutex
	seq     int64
	records map[string]ResourceRecord
	claimed map[string]int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]ResourceRecord),
		claimed: make(map[string]int64),
	}
}

// Claim reserves rawURL for checking and assigns its discovery sequence. It
// returns false if the URL was already claimed, so a resource referenced by
// many pages is validated and counted once.
func (r *Registry) Claim(rawURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claimed[rawURL]; ok {
		return false
	}
	r.seq++
	r.claimed[rawURL] = r.seq
	return true
}

// Record stores rec under its URL. The sequence comes from the earlier Claim,
// or is assigned now if the URL was never claimed. It returns the stored
// record and whether rec was newly inserted.
func (r *Registry) Record(rec ResourceRecord) (ResourceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[rec.URL]; ok {
		return existing, false
	}
	seq, ok := r.claimed[rec.URL]
	if !ok {
		r.seq++
		seq = r.seq
		r.claimed[rec.URL] = seq
	}
	rec.Seq = seq
	r.records[rec.URL] = rec
	return rec, true
}

// MarkOutcome says what MarkBroken changed.
type MarkOutcome int

const (
	// MarkUnchanged means the URL was already recorded as broken.
	MarkUnchanged MarkOutcome = iota
	// MarkInserted means rec was stored as a new record.
	MarkInserted
	// MarkFlipped means a healthy record became broken.
	MarkFlipped
)

// MarkBroken records that rec.URL failed. An existing healthy record keeps
// its Seq, Type, and FoundOn and takes rec's Status and Error; an existing
// broken record is left alone.
func (r *Registry) MarkBroken(rec ResourceRecord) (ResourceRecord, MarkOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[rec.URL]; ok {
		if existing.Broken {
			return existing, MarkUnchanged
		}
		existing.Status = rec.Status
		existing.Error = rec.Error
		existing.Broken = true
		r.records[rec.URL] = existing
		return existing, MarkFlipped
	}
	seq, ok := r.claimed[rec.URL]
	if !ok {
		r.seq++
		seq = r.seq
		r.claimed[rec.URL] = seq
	}
	rec.Seq = seq
	rec.Broken = true
	r.records[rec.URL] = rec
	return rec, MarkInserted
}

// Get returns the record for rawURL.
func (r *Registry) Get(rawURL string) (ResourceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[rawURL]
	return rec, ok
}

// Len returns the number of stored records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// All returns every record ordered by discovery sequence.
func (r *Registry) All() []ResourceRecord {
	return r.collect(func(ResourceRecord) bool { return true })
}

// Broken returns the broken records ordered by discovery sequence.
func (r *Registry) Broken() []ResourceRecord {
	return r.collect(func(rec ResourceRecord) bool { return rec.Broken })
}

func (r *Registry) collect(keep func(ResourceRecord) bool) []ResourceRecord {
	r.mu.Lock()
	out := make([]ResourceRecord, 0, len(r.records))
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
