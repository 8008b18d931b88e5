// Package engine defines the per-tenant RAG engine capability.
//
// An Engine owns one tenant's retrieval state: chunked documents, their
// embeddings, and the vector index, all rooted in that tenant's working
// directory. The instance manager creates engines through a Factory, holds
// them while the tenant is active, and releases them on eviction. Callers
// must treat Engine values as opaque handles.
package engine

import (
	"context"
	"errors"
)

// Mode selects the retrieval strategy for search and query operations.
type Mode string

const (
	ModeNaive  Mode = "naive"
	ModeLocal  Mode = "local"
	ModeGlobal Mode = "global"
	ModeHybrid Mode = "hybrid"
	ModeMix    Mode = "mix"
)

// Valid reports whether the mode is one of the recognized retrieval modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeNaive, ModeLocal, ModeGlobal, ModeHybrid, ModeMix:
		return true
	}
	return false
}

// Sentinel errors for engine operations.
var (
	// ErrClosed is returned when operating on a released engine.
	ErrClosed = errors.New("engine is closed")

	// ErrInvalidMode indicates an unrecognized retrieval mode.
	ErrInvalidMode = errors.New("invalid retrieval mode")

	// ErrEmptyContent indicates a document with no content.
	ErrEmptyContent = errors.New("document content cannot be empty")

	// ErrDocumentNotFound is returned when deleting an unknown document.
	ErrDocumentNotFound = errors.New("document not found")
)

// Document is a unit of tenant content to be ingested.
type Document struct {
	// ID uniquely identifies the document within the tenant.
	ID string

	// Title is an optional human-readable title.
	Title string

	// Content is the raw document text.
	Content string

	// Metadata carries caller-defined key/value pairs attached to every
	// chunk derived from this document.
	Metadata map[string]string
}

// SearchOptions control retrieval behavior.
type SearchOptions struct {
	// Mode selects the retrieval strategy. Defaults to ModeHybrid.
	Mode Mode

	// TopK bounds the number of returned chunks. Defaults to 5.
	TopK int

	// Threshold drops results below this similarity. Zero keeps everything.
	Threshold float64
}

// SearchResult is a single retrieved chunk.
type SearchResult struct {
	Text          string            `json:"text"`
	Similarity    float64           `json:"similarity"`
	DocumentID    string            `json:"document_id"`
	DocumentTitle string            `json:"document_title"`
	ChunkID       string            `json:"chunk_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// QueryResult is a generated answer with its supporting chunks.
type QueryResult struct {
	Answer     string         `json:"answer"`
	Sources    []SearchResult `json:"sources"`
	Confidence float64        `json:"confidence"`
}

// Engine is the opaque per-tenant RAG capability.
//
// Implementations must be safe for concurrent use: the instance manager
// hands the same handle to every in-flight request for a tenant.
type Engine interface {
	// Insert chunks, embeds, and indexes a document.
	Insert(ctx context.Context, doc Document) error

	// Delete removes a document and all of its chunks.
	Delete(ctx context.Context, documentID string) error

	// Search performs similarity retrieval over the tenant's chunks.
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)

	// Query performs retrieval-augmented generation: Search followed by
	// answer synthesis over the retrieved chunks.
	Query(ctx context.Context, query string, opts SearchOptions) (*QueryResult, error)

	// Close releases the engine's resources. Operations after Close return
	// ErrClosed. Close is idempotent.
	Close() error
}

// Factory constructs engines rooted in a working directory.
//
// The model completion function, embedder, and shared database connection
// are bound at factory construction; the working directory is the only
// per-tenant input.
type Factory interface {
	Create(ctx context.Context, workingDir string) (Engine, error)
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CompletionFunc synthesizes an answer from a system prompt and a user
// prompt. It is the engine's only dependency on the language model.
type CompletionFunc func(ctx context.Context, system, prompt string) (string, error)
