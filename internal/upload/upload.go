// Package upload holds per-conversation uploaded documents and selects the
// chunks most relevant to each question. Chunks live in a session keyed by
// the chat session token and expire with it; nothing uploaded here reaches
// the shared municipal corpus.
package upload

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/diego-ramazzini/muniagent/config"
)

// Chunk is one indexed slice of an uploaded document.
type Chunk struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Text        string    `json:"text"`
	ContentHash string    `json:"content_hash"`
	ChunkIndex  int       `json:"chunk_index"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Vector      []float32 `json:"vector,omitempty"`
}

// Hit is one ranked search result over a session's chunks.
type Hit struct {
	ChunkID string
	Text    string
	Score   float64
	Rank    int
}

// Session indexes the chunks of one conversation.
type Session interface {
	ID() string
	Expire(ttl time.Duration)
	AddChunk(chunk Chunk) error
	Chunks() []Chunk
	Bm25Search(q string, k int) ([]Hit, error)
	VectorSearch(vec []float32, k int) []Hit
}

// Store manages upload sessions by chat session token.
type Store interface {
	EnsureSession(id string, ttl time.Duration) (Session, error)
	// GetSession returns (nil, nil) when no session exists for id.
	GetSession(id string) (Session, error)
}

// Embedder produces chunk vectors for the semantic half of the hybrid search.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Manager fronts the configured session store for the HTTP layer.
type Manager struct {
	store    Store
	embedder Embedder
	logger   *log.Logger
	cfg      config.UploadConfig
}

func NewManager(cfg config.UploadConfig, redisCfg config.RedisConfig, embedder Embedder, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[UPLOAD] ", log.LstdFlags)
	}
	// A zero TTL would expire sessions at creation time.
	if cfg.TTL <= 0 {
		cfg.TTL = 48 * time.Hour
	}
	var store Store
	switch cfg.Backend {
	case "redis":
		store = NewRedisStore(redisCfg.Addr(), redisCfg.Pass, redisCfg.DB)
	case "", "memory":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported upload backend: %s", cfg.Backend)
	}
	return &Manager{store: store, embedder: embedder, logger: logger, cfg: cfg}, nil
}

// Attach chunks text, embeds each chunk and indexes everything under the
// conversation's upload session. It returns the number of chunks indexed.
func (m *Manager) Attach(ctx context.Context, sessionToken, filename, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errors.New("document has no text")
	}
	sess, err := m.store.EnsureSession(sessionToken, m.cfg.TTL)
	if err != nil {
		return 0, fmt.Errorf("ensuring upload session: %w", err)
	}

	parts := makeChunks(text, m.cfg.ChunkSize, m.cfg.Overlap)
	vectors, err := m.embedder.CreateEmbedding(ctx, parts)
	if err != nil {
		// Keep the BM25 half usable even when the embedding service is down.
		m.logger.Printf("chunk embedding failed, indexing without vectors: %v", err)
		vectors = nil
	}

	hash := sha1Hex(text)
	now := time.Now()
	for i, part := range parts {
		chunk := Chunk{
			ID:          fmt.Sprintf("%s#%03d", hash, i),
			Filename:    filename,
			Text:        part,
			ContentHash: hash,
			ChunkIndex:  i,
			UploadedAt:  now,
		}
		if i < len(vectors) {
			chunk.Vector = vectors[i]
		}
		if err := sess.AddChunk(chunk); err != nil {
			return 0, fmt.Errorf("indexing chunk %d: %w", i, err)
		}
	}
	return len(parts), nil
}

// Supplement returns the uploaded-document text most relevant to the
// question, or "" when the conversation has no upload. BM25 and vector
// rankings are fused by reciprocal rank so either signal alone still works;
// a failed question embedding degrades to the lexical ranking.
func (m *Manager) Supplement(ctx context.Context, sessionToken, question string) string {
	sess, err := m.store.GetSession(sessionToken)
	if err != nil {
		m.logger.Printf("upload session lookup failed: %v", err)
		return ""
	}
	if sess == nil {
		return ""
	}

	k := m.cfg.SearchTopK
	if k <= 0 {
		k = 5
	}
	lexical, err := sess.Bm25Search(question, k)
	if err != nil {
		m.logger.Printf("bm25 search failed: %v", err)
	}
	var semantic []Hit
	if vecs, err := m.embedder.CreateEmbedding(ctx, []string{question}); err == nil && len(vecs) > 0 {
		semantic = sess.VectorSearch(vecs[0], k)
	} else if err != nil {
		m.logger.Printf("question embedding failed, using lexical ranking only: %v", err)
	}
	fused := fuseRRF(lexical, semantic, k)
	if len(fused) == 0 {
		return ""
	}

	parts := make([]string, 0, len(fused))
	for _, h := range fused {
		parts = append(parts, h.Text)
	}
	return strings.Join(parts, "\n")
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// makeChunks splits text into ~approx-byte windows with overlap bytes of
// carry-over between consecutive chunks.
func makeChunks(text string, approx, overlap int) []string {
	text = strings.TrimSpace(text)
	if approx <= 0 {
		approx = 1000
	}
	if overlap < 0 || overlap >= approx {
		overlap = 0
	}
	if len(text) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(text); {
		end := start + approx
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = end - overlap
	}
	return chunks
}
