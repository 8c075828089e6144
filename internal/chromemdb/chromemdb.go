package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"edumate-rag/internal/index"
	"edumate-rag/internal/models"
)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db       *chromem.DB
	embed    chromem.EmbeddingFunc
	name     string
	metadata map[string]string
	dbPath   string
	compress bool

	// guards collection, which Reset and Import swap out
	mu         sync.RWMutex
	collection *chromem.Collection
}

var _ index.Store = (*VectorDBManager)(nil)

// NewVectorDBManager opens (or creates) the database and the named collection.
// An empty dbPath keeps everything in memory.
func NewVectorDBManager(dbPath, collectionName string, compress bool, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	if embed == nil {
		return nil, errors.New("embedding function is required")
	}

	var db *chromem.DB
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:       db,
		embed:    embed,
		name:     collectionName,
		metadata: map[string]string{"space": "cosine"},
		dbPath:   dbPath,
		compress: compress,
	}
	if err := m.openCollection(); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) openCollection() error {
	c, err := m.db.GetOrCreateCollection(m.name, m.metadata, m.embed)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.mu.Lock()
	m.collection = c
	m.mu.Unlock()
	return nil
}

func (m *VectorDBManager) current() *chromem.Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection
}

// Add embeds the chunk content and stores it under id.
func (m *VectorDBManager) Add(ctx context.Context, id string, chunk models.Chunk) error {
	err := m.current().AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  chunk.Content,
		Metadata: chunk.Metadata.ToMap(),
	})
	if err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

// Search returns at most k chunks ordered by ascending cosine distance.
// An empty collection is not an error.
func (m *VectorDBManager) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", index.ErrSearch)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", index.ErrSearch, k)
	}

	c := m.current()
	count := c.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem rejects nResults above the collection size
	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryText: query,
		NResults:  min(k, count),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", index.ErrSearch, err)
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: models.MetadataFromMap(r.Metadata),
			Distance: 1 - r.Similarity,
		})
	}
	return out, nil
}

// DeleteFile removes every record loaded from filePath.
func (m *VectorDBManager) DeleteFile(ctx context.Context, filePath string) error {
	if err := m.current().Delete(ctx, map[string]string{"file_path": filePath}, nil); err != nil {
		return fmt.Errorf("failed to delete records of %s: %w", filePath, err)
	}
	return nil
}

// Reset drops the collection and creates it again empty.
func (m *VectorDBManager) Reset(_ context.Context) error {
	if err := m.db.DeleteCollection(m.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return m.openCollection()
}

func (m *VectorDBManager) Info(_ context.Context) (models.CollectionInfo, error) {
	return models.CollectionInfo{
		Name:     m.name,
		Count:    m.current().Count(),
		Metadata: maps.Clone(m.metadata),
	}, nil
}

// Export writes the collection to a single (optionally encrypted) file.
func (m *VectorDBManager) Export(filePath, encryptionKey string) error {
	if filePath == "" {
		return errors.New("file path is required")
	}
	log.Debug().
		Str("collection", m.name).
		Str("file", filePath).
		Bool("compress", m.compress).
		Bool("encrypted", encryptionKey != "").
		Msg("Exporting collection")

	if err := m.db.ExportToFile(filePath, m.compress, encryptionKey, m.name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection from a file written by Export.
func (m *VectorDBManager) Import(filePath, encryptionKey string) error {
	if err := m.db.ImportFromFile(filePath, encryptionKey, m.name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(m.name, m.embed)
	if c == nil {
		return fmt.Errorf("collection %s not found in %s", m.name, filePath)
	}
	m.mu.Lock()
	m.collection = c
	m.mu.Unlock()
	return nil
}
