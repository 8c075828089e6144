// Package index fills a vector store from the document loader.
package index

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"

	"edumate-rag/internal/models"
)

var (
	// ErrNoDocuments means the loader produced zero chunks.
	ErrNoDocuments = errors.New("no documents to index")
	// ErrSearch wraps every failure of a similarity search.
	ErrSearch = errors.New("vector search failed")
)

// Store is a persistent collection of embedded chunks.
type Store interface {
	Add(ctx context.Context, id string, chunk models.Chunk) error
	Search(ctx context.Context, query string, k int) ([]models.SearchResult, error)
	DeleteFile(ctx context.Context, filePath string) error
	Reset(ctx context.Context) error
	Info(ctx context.Context) (models.CollectionInfo, error)
}

type Loader interface {
	LoadAllPDFs(ctx context.Context) ([]models.Chunk, error)
	LoadFile(filePath string) ([]models.Chunk, error)
}

type Indexer struct {
	loader Loader
	store  Store
	// one indexing run at a time, the watcher and the API may overlap
	mu sync.Mutex
}

func NewIndexer(loader Loader, store Store) *Indexer {
	return &Indexer{loader: loader, store: store}
}

// RecordID is unique across files because of the running global index.
func RecordID(m models.ChunkMetadata, global int) string {
	return fmt.Sprintf("%s_%d_%d", m.Source, m.ChunkIndex, global)
}

// IndexPDFs loads every document and adds each chunk to the store. Insert failures are
// logged and skipped. Returns ErrNoDocuments when nothing was loaded. With reset the
// collection is emptied first, otherwise records are added on top of what is there.
func (ix *Indexer) IndexPDFs(ctx context.Context, reset bool) (*models.IndexReport, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	log.Info().Bool("reset", reset).Msg("Starting document indexing")

	chunks, err := ix.loader.LoadAllPDFs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	if len(chunks) == 0 {
		log.Warn().Msg("No documents to index")
		return nil, ErrNoDocuments
	}

	if reset {
		if err := ix.store.Reset(ctx); err != nil {
			return nil, fmt.Errorf("failed to reset collection: %w", err)
		}
	}

	report := ix.addChunks(ctx, chunks, 0)
	log.Info().Interface("report", report).Msg("Indexing complete")
	return report, nil
}

// IndexFile replaces the records of a single document. Records are matched by file
// path, so files that only differ by extension stay separate.
func (ix *Indexer) IndexFile(ctx context.Context, filePath string) (*models.IndexReport, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	chunks, err := ix.loader.LoadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filePath, err)
	}
	if len(chunks) == 0 {
		return nil, ErrNoDocuments
	}

	if err := ix.store.DeleteFile(ctx, chunks[0].Metadata.FilePath); err != nil {
		return nil, fmt.Errorf("failed to remove old records: %w", err)
	}

	report := ix.addChunks(ctx, chunks, fileBase(filePath))
	log.Info().Str("file", filePath).Interface("report", report).Msg("Re-indexed document")
	return report, nil
}

// RemoveFile drops every record of one document.
func (ix *Indexer) RemoveFile(ctx context.Context, filePath string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.store.DeleteFile(ctx, filePath); err != nil {
		return fmt.Errorf("failed to remove %s: %w", filePath, err)
	}
	log.Info().Str("file", filePath).Msg("Removed document from index")
	return nil
}

// fileBase gives each file its own range of global indexes when it is indexed on its
// own, so two files with the same source name never share a record id.
func fileBase(filePath string) int {
	h := fnv.New32a()
	h.Write([]byte(filePath))
	return int(h.Sum32() & 0x3fffffff)
}

func (ix *Indexer) addChunks(ctx context.Context, chunks []models.Chunk, base int) *models.IndexReport {
	report := &models.IndexReport{Chunks: len(chunks)}
	sources := make(map[string]struct{})

	for i, c := range chunks {
		sources[c.Metadata.Source] = struct{}{}
		if err := ix.store.Add(ctx, RecordID(c.Metadata, base+i), c); err != nil {
			log.Error().Err(err).Int("chunk", i).Str("source", c.Metadata.Source).Msg("Error indexing chunk")
			report.Failed++
			continue
		}
		report.Indexed++
		if report.Indexed%10 == 0 {
			log.Debug().Msgf("Indexed %d/%d chunks", report.Indexed, len(chunks))
		}
	}

	report.Files = len(sources)
	return report
}
