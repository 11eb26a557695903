package upload

import (
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
)

// MemoryStore keeps upload sessions in process memory. Sessions vanish on
// restart; acceptable for single-instance deployments and tests.
type MemoryStore struct {
	sessions map[string]*memorySession
	mu       sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (store *MemoryStore) EnsureSession(id string, ttl time.Duration) (Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if sess, ok := store.sessions[id]; ok && !sess.expired() {
		sess.Expire(ttl)
		return sess, nil
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	sess := &memorySession{
		id:        id,
		expiresAt: time.Now().Add(ttl),
		bleve:     index,
		meta:      make(map[string]Chunk),
	}
	store.sessions[id] = sess
	return sess, nil
}

func (store *MemoryStore) GetSession(id string) (Session, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	sess, ok := store.sessions[id]
	if !ok || sess.expired() {
		return nil, nil
	}
	return sess, nil
}

type memorySession struct {
	id        string
	expiresAt time.Time
	bleve     bleve.Index
	meta      map[string]Chunk
	mu        sync.RWMutex
}

func (s *memorySession) ID() string { return s.id }

func (s *memorySession) Expire(ttl time.Duration) { s.expiresAt = time.Now().Add(ttl) }

func (s *memorySession) expired() bool { return time.Now().After(s.expiresAt) }

func (s *memorySession) AddChunk(chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[chunk.ID] = chunk
	return s.bleve.Index(chunk.ID, chunk)
}

func (s *memorySession) Chunks() []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chunk, 0, len(s.meta))
	for _, c := range s.meta {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (s *memorySession) Bm25Search(q string, k int) ([]Hit, error) {
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := s.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Hit
	for i, hit := range res.Hits {
		chunk := s.meta[hit.ID]
		out = append(out, Hit{ChunkID: hit.ID, Text: chunk.Text, Score: hit.Score, Rank: i + 1})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (s *memorySession) VectorSearch(vec []float32, k int) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	var scoreds []scored
	for id, c := range s.meta {
		if len(c.Vector) == 0 {
			continue
		}
		scoreds = append(scoreds, scored{id: id, score: cosine(vec, c.Vector)})
	}
	sort.Slice(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	var out []Hit
	for i, sc := range scoreds {
		chunk := s.meta[sc.id]
		out = append(out, Hit{ChunkID: sc.id, Text: chunk.Text, Score: sc.score, Rank: i + 1})
		if len(out) >= k {
			break
		}
	}
	return out
}
