// Package ingest loads the municipal corpus into the document store: local
// PDF and text files plus configured web pages, embedded and upserted so
// re-running is idempotent.
package ingest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/diego-ramazzini/muniagent/config"
	"github.com/diego-ramazzini/muniagent/internal/helpers"
	"github.com/diego-ramazzini/muniagent/internal/pdfx"
)

// embedCharBudget caps the text sent to the embedding endpoint. Documents
// longer than this are embedded by their leading slice; retrieval still
// returns the full content.
const embedCharBudget = 8000

// Documents is the corpus write surface.
type Documents interface {
	UpsertDocument(ctx context.Context, filename, kind, content string, embedding []float32) error
}

// Embedder produces document embeddings.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type Ingester struct {
	docs     Documents
	embedder Embedder
	logger   *log.Logger
	client   *http.Client
	cfg      config.IngestConfig
}

func New(cfg config.IngestConfig, docs Documents, embedder Embedder, logger *log.Logger) *Ingester {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Ingester{
		docs:     docs,
		embedder: embedder,
		logger:   logger,
		client:   &http.Client{Timeout: 30 * time.Second},
		cfg:      cfg,
	}
}

// Run ingests the configured directory and URL list, returning the number of
// documents stored. Individual document failures are logged and skipped so
// one bad file cannot abort a corpus refresh.
func (in *Ingester) Run(ctx context.Context) (int, error) {
	var stored int
	if in.cfg.Dir != "" {
		n, err := in.IngestDir(ctx, in.cfg.Dir)
		stored += n
		if err != nil {
			return stored, err
		}
	}
	for _, pageURL := range in.cfg.URLs {
		if err := in.IngestURL(ctx, pageURL); err != nil {
			in.logger.Printf("ingesting %s failed: %v", pageURL, err)
			continue
		}
		stored++
	}
	return stored, nil
}

// IngestDir walks dir and stores every .pdf, .txt and .md file it can read.
func (in *Ingester) IngestDir(ctx context.Context, dir string) (int, error) {
	var stored int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var text, kind string
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdf":
			kind = "pdf"
			data, err := os.ReadFile(path)
			if err != nil {
				in.logger.Printf("reading %s failed: %v", path, err)
				return nil
			}
			text, err = pdfx.ExtractText(data)
			if err != nil {
				in.logger.Printf("extracting %s failed: %v", path, err)
				return nil
			}
		case ".txt", ".md":
			kind = "text"
			data, err := os.ReadFile(path)
			if err != nil {
				in.logger.Printf("reading %s failed: %v", path, err)
				return nil
			}
			text = string(data)
		default:
			return nil
		}
		if err := in.store(ctx, filepath.Base(path), kind, text); err != nil {
			in.logger.Printf("storing %s failed: %v", path, err)
			return nil
		}
		stored++
		return nil
	})
	return stored, err
}

// IngestURL fetches a page, extracts its main content and stores it under
// the page title (falling back to the URL itself).
func (in *Ingester) IngestURL(ctx context.Context, pageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching page: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading page: %w", err)
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return fmt.Errorf("extracting article: %w", err)
	}
	name := strings.TrimSpace(article.Title)
	if name == "" {
		name = pageURL
	}
	return in.store(ctx, name, "web", article.TextContent)
}

func (in *Ingester) store(ctx context.Context, filename, kind, text string) error {
	text = helpers.SanitizeText(text)
	if text == "" {
		return fmt.Errorf("document %s has no usable text", filename)
	}
	vecs, err := in.embedder.CreateEmbedding(ctx, []string{helpers.TruncateChars(text, embedCharBudget)})
	if err != nil || len(vecs) == 0 {
		return fmt.Errorf("embedding %s: %w", filename, err)
	}
	return in.docs.UpsertDocument(ctx, filename, kind, text, vecs[0])
}
