package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// vectorSubdir is the working-directory subdirectory holding the
	// persisted vector index.
	vectorSubdir = "vectors"

	// chunkCollection is the chromem collection name for document chunks.
	chunkCollection = "chunks"
)

// RAGConfig holds construction parameters shared by every engine the
// factory creates.
type RAGConfig struct {
	// ChunkSize is the target chunk size in words. Zero uses the default.
	ChunkSize int

	// ChunkOverlap is the word overlap between adjacent chunks.
	ChunkOverlap int

	// Compress enables gzip compression of the persisted vector index.
	Compress bool
}

// RAGFactory builds chromem-backed engines. The embedder, completion
// function, and shared database pool are fixed at construction; Create
// binds them to a tenant working directory.
type RAGFactory struct {
	embedder Embedder
	complete CompletionFunc
	pool     *pgxpool.Pool
	config   RAGConfig
	logger   *zap.Logger
	metrics  *Metrics
}

// NewRAGFactory creates an engine factory.
//
// pool may be nil, in which case document-status bookkeeping is skipped
// (the vector index under the working directory remains authoritative).
func NewRAGFactory(embedder Embedder, complete CompletionFunc, pool *pgxpool.Pool, cfg RAGConfig, logger *zap.Logger) (*RAGFactory, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if complete == nil {
		return nil, fmt.Errorf("completion function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RAGFactory{
		embedder: embedder,
		complete: complete,
		pool:     pool,
		config:   cfg,
		logger:   logger,
		metrics:  NewMetrics(logger),
	}, nil
}

// Create opens (or initializes) the vector index under workingDir and
// returns a ready engine.
func (f *RAGFactory) Create(ctx context.Context, workingDir string) (Engine, error) {
	db, err := chromem.NewPersistentDB(filepath.Join(workingDir, vectorSubdir), f.config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening vector index in %s: %w", workingDir, err)
	}

	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return f.embedder.EmbedQuery(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(chunkCollection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("creating chunk collection: %w", err)
	}

	tenantID := filepath.Base(workingDir)
	f.logger.Debug("engine created",
		zap.String("tenant_id", tenantID),
		zap.String("working_dir", workingDir),
		zap.Int("existing_chunks", collection.Count()))

	return &ragEngine{
		tenantID:   tenantID,
		workingDir: workingDir,
		collection: collection,
		embedder:   f.embedder,
		complete:   f.complete,
		pool:       f.pool,
		config:     f.config,
		logger:     f.logger.With(zap.String("tenant_id", tenantID)),
		metrics:    f.metrics,
	}, nil
}

// ragEngine implements Engine over a per-tenant chromem collection.
type ragEngine struct {
	tenantID   string
	workingDir string
	collection *chromem.Collection
	embedder   Embedder
	complete   CompletionFunc
	pool       *pgxpool.Pool
	config     RAGConfig
	logger     *zap.Logger
	metrics    *Metrics

	mu     sync.RWMutex
	closed bool
}

func (e *ragEngine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Insert chunks, embeds, and indexes a document.
func (e *ragEngine) Insert(ctx context.Context, doc Document) error {
	start := time.Now()
	var opErr error
	defer func() {
		e.metrics.RecordOperation(ctx, "insert", time.Since(start), opErr)
	}()

	if opErr = e.checkOpen(); opErr != nil {
		return opErr
	}
	if strings.TrimSpace(doc.Content) == "" {
		opErr = ErrEmptyContent
		return opErr
	}
	if doc.ID == "" {
		opErr = fmt.Errorf("document ID is required")
		return opErr
	}

	chunks := chunk(doc.Content, e.config.ChunkSize, e.config.ChunkOverlap)
	vectors, err := e.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		opErr = fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
		return opErr
	}
	if len(vectors) != len(chunks) {
		opErr = fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		return opErr
	}

	chromemDocs := make([]chromem.Document, len(chunks))
	for i, text := range chunks {
		metadata := map[string]string{
			"document_id":    doc.ID,
			"document_title": doc.Title,
			"chunk_index":    fmt.Sprintf("%d", i),
		}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		chromemDocs[i] = chromem.Document{
			ID:        fmt.Sprintf("%s_%d", doc.ID, i),
			Metadata:  metadata,
			Embedding: vectors[i],
			Content:   text,
		}
	}

	if err := e.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		opErr = fmt.Errorf("indexing chunks: %w", err)
		return opErr
	}

	if err := e.recordDocument(ctx, doc, len(chunks)); err != nil {
		// The index is authoritative; status rows are best-effort.
		e.logger.Warn("failed to record document status", zap.String("document_id", doc.ID), zap.Error(err))
	}

	e.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
		zap.Int("content_bytes", len(doc.Content)))
	return nil
}

// Delete removes a document and all of its chunks.
func (e *ragEngine) Delete(ctx context.Context, documentID string) error {
	start := time.Now()
	var opErr error
	defer func() {
		e.metrics.RecordOperation(ctx, "delete", time.Since(start), opErr)
	}()

	if opErr = e.checkOpen(); opErr != nil {
		return opErr
	}
	if documentID == "" {
		opErr = fmt.Errorf("document ID is required")
		return opErr
	}

	before := e.collection.Count()
	if err := e.collection.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		opErr = fmt.Errorf("deleting chunks for %s: %w", documentID, err)
		return opErr
	}
	if e.collection.Count() == before {
		opErr = fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
		return opErr
	}

	if e.pool != nil {
		if _, err := e.pool.Exec(ctx,
			`DELETE FROM embediq_documents WHERE tenant_id = $1 AND document_id = $2`,
			e.tenantID, documentID); err != nil {
			e.logger.Warn("failed to delete document status", zap.String("document_id", documentID), zap.Error(err))
		}
	}

	e.logger.Info("document deleted", zap.String("document_id", documentID))
	return nil
}

// Search performs similarity retrieval over the tenant's chunks.
func (e *ragEngine) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	start := time.Now()
	var opErr error
	defer func() {
		e.metrics.RecordOperation(ctx, "search", time.Since(start), opErr)
	}()

	results, err := e.search(ctx, query, opts)
	opErr = err
	return results, err
}

func (e *ragEngine) search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	opts = applyDefaults(opts)
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, opts.Mode)
	}

	// chromem requires nResults <= document count.
	count := e.collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	k := opts.TopK
	if k > count {
		k = count
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	raw, err := e.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}

	results := make([]SearchResult, 0, len(raw))
	for _, r := range raw {
		similarity := float64(r.Similarity)
		if similarity < opts.Threshold {
			continue
		}
		metadata := make(map[string]string, len(r.Metadata))
		for mk, mv := range r.Metadata {
			switch mk {
			case "document_id", "document_title", "chunk_index":
				// surfaced as dedicated fields
			default:
				metadata[mk] = mv
			}
		}
		results = append(results, SearchResult{
			Text:          r.Content,
			Similarity:    similarity,
			DocumentID:    r.Metadata["document_id"],
			DocumentTitle: r.Metadata["document_title"],
			ChunkID:       r.ID,
			Metadata:      metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	return results, nil
}

// Query performs retrieval then answer synthesis over the retrieved chunks.
func (e *ragEngine) Query(ctx context.Context, query string, opts SearchOptions) (*QueryResult, error) {
	start := time.Now()
	var opErr error
	defer func() {
		e.metrics.RecordOperation(ctx, "query", time.Since(start), opErr)
	}()

	sources, err := e.search(ctx, query, opts)
	if err != nil {
		opErr = err
		return nil, err
	}

	if len(sources) == 0 {
		return &QueryResult{
			Answer:  "No relevant documents were found for this question.",
			Sources: []SearchResult{},
		}, nil
	}

	var contextBlock strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&contextBlock, "[%d] %s\n\n", i+1, src.Text)
	}

	system := "You are a retrieval-augmented assistant. Answer the question using only the provided context passages. If the context does not contain the answer, say so."
	prompt := fmt.Sprintf("Context:\n%s\nQuestion: %s", contextBlock.String(), query)

	answer, err := e.complete(ctx, system, prompt)
	if err != nil {
		opErr = fmt.Errorf("generating answer: %w", err)
		return nil, opErr
	}

	// Best matching chunk similarity doubles as a rough confidence signal.
	confidence := sources[0].Similarity

	return &QueryResult{
		Answer:     answer,
		Sources:    sources,
		Confidence: confidence,
	}, nil
}

// Close marks the engine released. The chromem index persists every
// mutation to disk, so there is nothing to flush.
func (e *ragEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.logger.Debug("engine closed")
	return nil
}

// recordDocument upserts the document-status row in the shared database.
func (e *ragEngine) recordDocument(ctx context.Context, doc Document, chunks int) error {
	if e.pool == nil {
		return nil
	}
	_, err := e.pool.Exec(ctx, `
		INSERT INTO embediq_documents (tenant_id, document_id, title, chunk_count, ingested_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id, document_id)
		DO UPDATE SET title = $3, chunk_count = $4, ingested_at = now()`,
		e.tenantID, doc.ID, doc.Title, chunks)
	return err
}

func applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return opts
}
