package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"edumate-rag/internal/models"
)

type fakeLoader struct {
	chunks []models.Chunk
	files  map[string][]models.Chunk
	err    error
}

func (f *fakeLoader) LoadAllPDFs(context.Context) ([]models.Chunk, error) {
	return f.chunks, f.err
}

func (f *fakeLoader) LoadFile(p string) ([]models.Chunk, error) {
	return f.files[p], f.err
}

type memStore struct {
	mu      sync.Mutex
	records map[string]models.Chunk
	failOn  string
	resets  int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]models.Chunk{}}
}

func (s *memStore) Add(_ context.Context, id string, c models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && strings.Contains(c.Content, s.failOn) {
		return errors.New("insert rejected")
	}
	s.records[id] = c
	return nil
}

func (s *memStore) Search(context.Context, string, int) ([]models.SearchResult, error) {
	return nil, nil
}

func (s *memStore) DeleteFile(_ context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.records {
		if c.Metadata.FilePath == filePath {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *memStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string]models.Chunk{}
	s.resets++
	return nil
}

func (s *memStore) Info(context.Context) (models.CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CollectionInfo{Name: models.CollectionName, Count: len(s.records)}, nil
}

func mk(source string, idx int, content string) models.Chunk {
	return mkFile("/pdfs/"+source+".pdf", source, idx, content)
}

func mkFile(path, source string, idx int, content string) models.Chunk {
	return models.Chunk{Content: content, Metadata: models.ChunkMetadata{Source: source, ChunkIndex: idx, FilePath: path}}
}

// bySource returns the contents stored for one source, in no particular order.
func (s *memStore) bySource(source string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]bool{}
	for _, c := range s.records {
		if c.Metadata.Source == source {
			out[c.Content] = true
		}
	}
	return out
}

func TestIndexPDFs_NoDocuments(t *testing.T) {
	ix := NewIndexer(&fakeLoader{}, newMemStore())

	_, err := ix.IndexPDFs(context.Background(), false)
	if !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("err = %v, want ErrNoDocuments", err)
	}
}

func TestIndexPDFs_IDsAndReport(t *testing.T) {
	store := newMemStore()
	ix := NewIndexer(&fakeLoader{chunks: []models.Chunk{
		mk("a", 0, "alpha"),
		mk("a", 1, "beta"),
		mk("b", 0, "gamma"),
	}}, store)

	report, err := ix.IndexPDFs(context.Background(), false)
	if err != nil {
		t.Fatalf("IndexPDFs() failed: %v", err)
	}
	want := models.IndexReport{Files: 2, Chunks: 3, Indexed: 3}
	if *report != want {
		t.Errorf("report = %+v, want %+v", *report, want)
	}
	for _, id := range []string{"a_0_0", "a_1_1", "b_0_2"} {
		if _, ok := store.records[id]; !ok {
			t.Errorf("record %s missing; have %v", id, store.records)
		}
	}
}

func TestIndexPDFs_InsertFailuresAreSkipped(t *testing.T) {
	store := newMemStore()
	store.failOn = "bad"
	ix := NewIndexer(&fakeLoader{chunks: []models.Chunk{
		mk("a", 0, "good one"),
		mk("a", 1, "bad one"),
		mk("a", 2, "good two"),
	}}, store)

	report, err := ix.IndexPDFs(context.Background(), false)
	if err != nil {
		t.Fatalf("IndexPDFs() failed: %v", err)
	}
	if report.Indexed != 2 || report.Failed != 1 {
		t.Errorf("report = %+v, want 2 indexed 1 failed", *report)
	}
}

func TestIndexPDFs_LoaderError(t *testing.T) {
	ix := NewIndexer(&fakeLoader{err: errors.New("permission denied")}, newMemStore())

	_, err := ix.IndexPDFs(context.Background(), false)
	if err == nil || errors.Is(err, ErrNoDocuments) {
		t.Fatalf("err = %v, want a load error", err)
	}
}

func TestIndexPDFs_Reset(t *testing.T) {
	store := newMemStore()
	store.records["stale_0_0"] = mk("stale", 0, "old")
	ix := NewIndexer(&fakeLoader{chunks: []models.Chunk{mk("a", 0, "alpha")}}, store)

	if _, err := ix.IndexPDFs(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if store.resets != 1 {
		t.Errorf("resets = %d, want 1", store.resets)
	}
	if _, ok := store.records["stale_0_0"]; ok {
		t.Error("stale record survived reset")
	}
}

func TestIndexPDFs_AppendKeepsExisting(t *testing.T) {
	store := newMemStore()
	store.records["other_0_0"] = mk("other", 0, "kept")
	ix := NewIndexer(&fakeLoader{chunks: []models.Chunk{mk("a", 0, "alpha")}}, store)

	if _, err := ix.IndexPDFs(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if len(store.records) != 2 {
		t.Errorf("records = %d, want 2", len(store.records))
	}
}

func TestIndexFile_ReplacesFile(t *testing.T) {
	store := newMemStore()
	store.records["a_0_0"] = mk("a", 0, "old a0")
	store.records["a_1_1"] = mk("a", 1, "old a1")
	store.records["a_2_2"] = mk("a", 2, "old a2")
	store.records["b_0_3"] = mk("b", 0, "b stays")

	ix := NewIndexer(&fakeLoader{files: map[string][]models.Chunk{
		"/pdfs/a.pdf": {mk("a", 0, "new a0")},
	}}, store)

	report, err := ix.IndexFile(context.Background(), "/pdfs/a.pdf")
	if err != nil {
		t.Fatalf("IndexFile() failed: %v", err)
	}
	if report.Indexed != 1 {
		t.Errorf("Indexed = %d, want 1", report.Indexed)
	}
	if len(store.records) != 2 {
		t.Fatalf("records = %v, want new a0 and b stays", store.records)
	}
	if got := store.bySource("a"); !got["new a0"] || len(got) != 1 {
		t.Errorf("source a = %v, want only new a0", got)
	}
}

func TestIndexFile_SameSourceOtherExtension(t *testing.T) {
	store := newMemStore()
	ix := NewIndexer(&fakeLoader{
		chunks: []models.Chunk{
			mkFile("/pdfs/notes.pdf", "notes", 0, "pdf page"),
			mkFile("/pdfs/notes.txt", "notes", 0, "txt v1"),
		},
		files: map[string][]models.Chunk{
			"/pdfs/notes.txt": {mkFile("/pdfs/notes.txt", "notes", 0, "txt v2")},
		},
	}, store)
	ctx := context.Background()

	if _, err := ix.IndexPDFs(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.IndexFile(ctx, "/pdfs/notes.txt"); err != nil {
		t.Fatal(err)
	}
	got := store.bySource("notes")
	if len(got) != 2 || !got["pdf page"] || !got["txt v2"] {
		t.Errorf("after re-index = %v, want pdf page and txt v2", got)
	}

	if err := ix.RemoveFile(ctx, "/pdfs/notes.txt"); err != nil {
		t.Fatal(err)
	}
	got = store.bySource("notes")
	if len(got) != 1 || !got["pdf page"] {
		t.Errorf("after remove = %v, want only pdf page", got)
	}
}

func TestIndexFile_Empty(t *testing.T) {
	ix := NewIndexer(&fakeLoader{}, newMemStore())
	if _, err := ix.IndexFile(context.Background(), "/pdfs/blank.pdf"); !errors.Is(err, ErrNoDocuments) {
		t.Errorf("err = %v, want ErrNoDocuments", err)
	}
}

func TestRemoveFile(t *testing.T) {
	store := newMemStore()
	store.records["a_0_0"] = mk("a", 0, "a0")
	store.records["b_0_1"] = mk("b", 0, "b0")

	ix := NewIndexer(&fakeLoader{}, store)
	if err := ix.RemoveFile(context.Background(), "/pdfs/a.pdf"); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.records["a_0_0"]; ok || len(store.records) != 1 {
		t.Errorf("records = %v, want only b_0_1", store.records)
	}
}

func TestRecordID(t *testing.T) {
	got := RecordID(models.ChunkMetadata{Source: "Lecture 3", ChunkIndex: 4}, 17)
	if got != "Lecture 3_4_17" {
		t.Errorf("RecordID() = %q", got)
	}
}
