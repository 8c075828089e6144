// Package db stores course chunks in Postgres with the pgvector extension.
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"edumate-rag/internal/index"
	"edumate-rag/internal/models"
)

// Vector is a pgvector value, written and read in its "[1,2,3]" text form.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func (v *Vector) Scan(src any) error {
	var s string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}

	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return fmt.Errorf("invalid vector literal %q", s)
	}
	s = s[1 : len(s)-1]
	if s == "" {
		*v = Vector{}
		return nil
	}

	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("invalid vector element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

const TableName = "course_chunks"

type Document struct {
	bun.BaseModel `bun:"table:course_chunks,alias:c"`
	ID            string  `bun:"id,pk"`
	Content       string  `bun:"content,notnull"`
	Source        string  `bun:"source,notnull"`
	ChunkIndex    int     `bun:"chunk_index,notnull"`
	FilePath      string  `bun:"file_path"`
	Embedding     Vector  `bun:"embedding,notnull,type:vector"`
	Distance      float32 `bun:"distance,scanonly"`
}

// Store implements index.Store on top of pgvector. Distances use the cosine
// operator so they compare with the chromem backend.
type Store struct {
	db    *bun.DB
	embed chromem.EmbeddingFunc
}

var _ index.Store = (*Store)(nil)

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(debug),
		bundebug.WithVerbose(debug),
		bundebug.FromEnv("BUNDEBUG"),
	))
	return db
}

func ConnectDB(dsn string) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
}

// Open connects to dsn and makes sure the extension and table exist.
func Open(ctx context.Context, dsn string, debug bool, embed chromem.EmbeddingFunc) (*Store, error) {
	if embed == nil {
		return nil, errors.New("embedding function is required")
	}
	s := &Store{db: NewDB(ConnectDB(dsn), debug), embed: embed}
	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := InitDB(ctx, s.db); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*Document)(nil)).
		Index("course_chunks_file_path_idx").
		Column("file_path").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add upserts the chunk under id.
func (s *Store) Add(ctx context.Context, id string, chunk models.Chunk) error {
	vec, err := s.embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("failed to embed chunk: %w", err)
	}
	doc := &Document{
		ID:         id,
		Content:    chunk.Content,
		Source:     chunk.Metadata.Source,
		ChunkIndex: chunk.Metadata.ChunkIndex,
		FilePath:   chunk.Metadata.FilePath,
		Embedding:  vec,
	}
	_, err = s.db.NewInsert().
		Model(doc).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("source = EXCLUDED.source").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("file_path = EXCLUDED.file_path").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", index.ErrSearch)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", index.ErrSearch, k)
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", index.ErrSearch, err)
	}

	var docs []Document
	err = s.db.NewSelect().
		Model(&docs).
		Column("id", "content", "source", "chunk_index", "file_path").
		ColumnExpr("embedding <=> ? AS distance", Vector(vec)).
		OrderExpr("distance ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", index.ErrSearch, err)
	}

	results := make([]models.SearchResult, 0, len(docs))
	for _, d := range docs {
		results = append(results, models.SearchResult{
			ID:      d.ID,
			Content: d.Content,
			Metadata: models.ChunkMetadata{
				Source:     d.Source,
				ChunkIndex: d.ChunkIndex,
				FilePath:   d.FilePath,
			},
			Distance: d.Distance,
		})
	}
	return results, nil
}

// DeleteFile removes every record loaded from filePath.
func (s *Store) DeleteFile(ctx context.Context, filePath string) error {
	res, err := s.db.NewDelete().Model((*Document)(nil)).Where("file_path = ?", filePath).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete records of %s: %w", filePath, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		log.Debug().Str("file", filePath).Int64("rows", n).Msg("Deleted file records")
	}
	return nil
}

func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.NewTruncateTable().Model((*Document)(nil)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to truncate table: %w", err)
	}
	return nil
}

func (s *Store) Info(ctx context.Context) (models.CollectionInfo, error) {
	count, err := s.db.NewSelect().Model((*Document)(nil)).Count(ctx)
	if err != nil {
		return models.CollectionInfo{}, fmt.Errorf("failed to count documents: %w", err)
	}
	return models.CollectionInfo{
		Name:     TableName,
		Count:    count,
		Metadata: map[string]string{"space": "cosine", "backend": "pgvector"},
	}, nil
}
