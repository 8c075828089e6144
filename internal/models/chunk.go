package models

import "strconv"

// ChunkMetadata is stored alongside every indexed chunk.
type ChunkMetadata struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	FilePath   string `json:"file_path"`
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ToMap flattens the metadata for stores that only keep string values.
func (m ChunkMetadata) ToMap() map[string]string {
	return map[string]string{
		"source":      m.Source,
		"chunk_index": strconv.Itoa(m.ChunkIndex),
		"file_path":   m.FilePath,
	}
}

// MetadataFromMap is the inverse of ToMap. A malformed chunk_index reads as 0.
func MetadataFromMap(m map[string]string) ChunkMetadata {
	idx, _ := strconv.Atoi(m["chunk_index"])
	return ChunkMetadata{
		Source:     m["source"],
		ChunkIndex: idx,
		FilePath:   m["file_path"],
	}
}

// SearchResult is a retrieved chunk. Distance is cosine distance, lower is closer.
type SearchResult struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
	Distance float32       `json:"distance"`
}

type CollectionInfo struct {
	Name     string            `json:"name"`
	Count    int               `json:"count"`
	Metadata map[string]string `json:"metadata"`
}

// IndexReport summarises one indexing run.
type IndexReport struct {
	Files   int `json:"files"`
	Chunks  int `json:"chunks"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}
