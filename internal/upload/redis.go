package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps chunk metadata and vectors in redis with the session TTL,
// so uploads survive process restarts. The BM25 index stays in-memory per
// process and is rebuilt lazily from the stored chunks on first search.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func chunksKey(id string) string { return fmt.Sprintf("upload:%s:chunks", id) }

func (store *RedisStore) EnsureSession(id string, ttl time.Duration) (Session, error) {
	ctx := context.Background()
	key := chunksKey(id)
	exists, err := store.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	sess := &redisSession{client: store.client, id: id, expiresAt: time.Now().Add(ttl)}
	if exists == 1 {
		if err := store.client.Expire(ctx, key, ttl).Err(); err != nil {
			return nil, err
		}
		return sess, nil
	}
	if err := store.client.Set(ctx, key, "{}", ttl).Err(); err != nil {
		return nil, err
	}
	return sess, nil
}

func (store *RedisStore) GetSession(id string) (Session, error) {
	ctx := context.Background()
	exists, err := store.client.Exists(ctx, chunksKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, nil
	}
	return &redisSession{client: store.client, id: id}, nil
}

type redisSession struct {
	client    *redis.Client
	id        string
	expiresAt time.Time

	mu    sync.Mutex
	bleve bleve.Index
}

func (s *redisSession) ID() string { return s.id }

func (s *redisSession) Expire(ttl time.Duration) {
	s.expiresAt = time.Now().Add(ttl)
	_ = s.client.Expire(context.Background(), chunksKey(s.id), ttl).Err()
}

func (s *redisSession) load() (map[string]Chunk, error) {
	val, err := s.client.Get(context.Background(), chunksKey(s.id)).Result()
	if err == redis.Nil {
		return map[string]Chunk{}, nil
	}
	if err != nil {
		return nil, err
	}
	meta := map[string]Chunk{}
	if err := json.Unmarshal([]byte(val), &meta); err != nil {
		return nil, fmt.Errorf("decoding stored chunks: %w", err)
	}
	return meta, nil
}

func (s *redisSession) AddChunk(chunk Chunk) error {
	meta, err := s.load()
	if err != nil {
		return err
	}
	meta[chunk.ID] = chunk
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	ttl := time.Until(s.expiresAt)
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := s.client.Set(context.Background(), chunksKey(s.id), data, ttl).Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bleve != nil {
		return s.bleve.Index(chunk.ID, chunk)
	}
	return nil
}

func (s *redisSession) Chunks() []Chunk {
	meta, err := s.load()
	if err != nil {
		return nil
	}
	out := make([]Chunk, 0, len(meta))
	for _, c := range meta {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

// index returns the per-process BM25 index, building it from the stored
// chunks on first use.
func (s *redisSession) index() (bleve.Index, map[string]Chunk, error) {
	meta, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bleve == nil {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, nil, err
		}
		for id, c := range meta {
			if err := idx.Index(id, c); err != nil {
				return nil, nil, err
			}
		}
		s.bleve = idx
	}
	return s.bleve, meta, nil
}

func (s *redisSession) Bm25Search(q string, k int) ([]Hit, error) {
	idx, meta, err := s.index()
	if err != nil {
		return nil, err
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, err
	}
	var out []Hit
	for i, hit := range res.Hits {
		chunk := meta[hit.ID]
		out = append(out, Hit{ChunkID: hit.ID, Text: chunk.Text, Score: hit.Score, Rank: i + 1})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (s *redisSession) VectorSearch(vec []float32, k int) []Hit {
	meta, err := s.load()
	if err != nil {
		return nil
	}
	type scored struct {
		id    string
		score float64
	}
	var scoreds []scored
	for id, c := range meta {
		if len(c.Vector) == 0 {
			continue
		}
		scoreds = append(scoreds, scored{id: id, score: cosine(vec, c.Vector)})
	}
	sort.Slice(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	var out []Hit
	for i, sc := range scoreds {
		chunk := meta[sc.id]
		out = append(out, Hit{ChunkID: sc.id, Text: chunk.Text, Score: sc.score, Rank: i + 1})
		if len(out) >= k {
			break
		}
	}
	return out
}
