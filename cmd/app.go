package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"edumate-rag/internal/api"
	"edumate-rag/internal/chromemdb"
	"edumate-rag/internal/config"
	"edumate-rag/internal/db"
	"edumate-rag/internal/embedding"
	"edumate-rag/internal/index"
	"edumate-rag/internal/llmservice"
	"edumate-rag/internal/parser"
	"edumate-rag/internal/rag"
)

// app holds every long lived component, built once per command.
type app struct {
	cfg     *config.Config
	store   index.Store
	chromem *chromemdb.VectorDBManager // nil on the pgvector backend
	pg      *db.Store                  // nil on the chromem backend
	loader  *parser.Loader
	indexer *index.Indexer
	llm     *llmservice.Client
	rag     *rag.RAG
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	embed, err := embedding.NewEmbedFunc(cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	switch cfg.VectorStore.Backend {
	case config.BackendPGVector:
		a.pg, err = db.Open(ctx, cfg.Database.URL, cfg.Database.Debug, embed)
		if err != nil {
			return nil, err
		}
		a.store = a.pg
	default:
		a.chromem, err = chromemdb.NewVectorDBManager(cfg.VectorStore.Path, cfg.VectorStore.Collection, cfg.VectorStore.Compress, embed)
		if err != nil {
			return nil, err
		}
		a.store = a.chromem
	}

	a.llm, err = llmservice.NewClient(cfg.LLM)
	if err != nil {
		a.close()
		return nil, err
	}

	a.loader = parser.NewLoader(cfg.Loader)
	a.indexer = index.NewIndexer(a.loader, a.store)
	a.rag = rag.NewRAG(a.store, a.llm, rag.NewMemory(), rag.Options{
		TopK:         cfg.RAG.TopK,
		HistoryTurns: cfg.RAG.HistoryTurns,
	})

	log.Info().
		Str("backend", cfg.VectorStore.Backend).
		Str("model", a.llm.Model()).
		Str("embedder", cfg.EmbedLLM.Provider).
		Msg("EduMate initialized")
	return a, nil
}

func (a *app) apiDeps() api.Deps {
	return api.Deps{
		RAG:        a.rag,
		Indexer:    a.indexer,
		Collection: a.store,
		Model:      a.llm.Model(),
	}
}

func (a *app) close() {
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
