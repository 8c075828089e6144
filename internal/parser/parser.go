package parser

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"edumate-rag/internal/config"
	"edumate-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xuri/excelize/v2"
)

const (
	defaultChunkSize    = 1000 // characters
	defaultChunkOverlap = 200  // characters
)

// ExtractFunc returns the plain text of a single file.
type ExtractFunc func(filePath string) (string, error)

// Loader turns a folder of course materials into chunks.
type Loader struct {
	folder     string
	extensions map[string]bool
	splitter   textsplitter.RecursiveCharacter
	extractors map[string]ExtractFunc
}

func NewLoader(cfg config.LoaderConfig) *Loader {
	size, overlap := cfg.ChunkSize, cfg.ChunkOverlap
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".pdf"}
	}
	enabled := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		enabled[e] = true
	}

	return &Loader{
		folder:     cfg.PDFFolder,
		extensions: enabled,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
		),
		extractors: map[string]ExtractFunc{
			".pdf":  parsePDF,
			".docx": parseDOCX,
			".pptx": parsePPTX,
			".xlsx": parseXLSX,
			".txt":  parseText,
			".md":   parseText,
		},
	}
}

// RegisterExtractor overrides or adds the extractor for an extension.
func (l *Loader) RegisterExtractor(ext string, fn ExtractFunc) {
	l.extractors[strings.ToLower(ext)] = fn
}

func (l *Loader) Folder() string {
	return l.folder
}

// Supports reports whether the file has an enabled extension.
func (l *Loader) Supports(filePath string) bool {
	return l.extensions[strings.ToLower(filepath.Ext(filePath))]
}

// LoadAllPDFs chunks every supported file directly inside the folder. Files that fail
// to parse are logged and skipped. A missing or empty folder yields no chunks.
func (l *Loader) LoadAllPDFs(ctx context.Context) ([]models.Chunk, error) {
	entries, err := os.ReadDir(l.folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("folder", l.folder).Msg("Document folder does not exist")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read folder %s: %w", l.folder, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !l.Supports(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(l.folder, e.Name()))
	}

	if len(files) == 0 {
		log.Warn().Str("folder", l.folder).Msg("No documents found")
		return nil, nil
	}
	log.Info().Int("files", len(files)).Msg("Found documents")

	var chunks []models.Chunk
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return chunks, err
		}
		fileChunks, err := l.LoadFile(f)
		if err != nil {
			log.Error().Err(err).Str("file", f).Msg("Error processing document")
			continue
		}
		log.Info().Str("file", filepath.Base(f)).Int("chunks", len(fileChunks)).Msg("Extracted chunks")
		chunks = append(chunks, fileChunks...)
	}

	log.Info().Int("chunks", len(chunks)).Msg("Total chunks created")
	return chunks, nil
}

// LoadFile extracts and chunks a single file.
func (l *Loader) LoadFile(filePath string) ([]models.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	extract, ok := l.extractors[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}

	text, err := extract(filePath)
	if err != nil {
		return nil, err
	}

	pieces, err := l.SplitText(text)
	if err != nil {
		return nil, err
	}

	source := SourceName(filePath)
	chunks := make([]models.Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, models.Chunk{
			Content: p,
			Metadata: models.ChunkMetadata{
				Source:     source,
				ChunkIndex: i,
				FilePath:   filePath,
			},
		})
	}
	return chunks, nil
}

// SplitText splits on paragraphs, then lines, then spaces, then characters.
func (l *Loader) SplitText(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	pieces, err := l.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}
	out := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// SourceName is the file name without directory or extension.
func SourceName(filePath string) string {
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func parsePDF(filePath string) (_ string, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", i, err)
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	return xmlToText(r.Editable().GetContent()), nil
}

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func parsePPTX(filePath string) (string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var text strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		text.WriteString(xmlToText(string(data)))
		text.WriteString("\n\n")
	}
	return text.String(), nil
}

func parseXLSX(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var (
	paragraphEndRe = regexp.MustCompile(`</(w|a):p>`)
	xmlTagRe       = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe   = regexp.MustCompile(`\n{3,}`)
)

// xmlToText keeps paragraph breaks from office XML and drops all markup.
func xmlToText(xmlContent string) string {
	s := paragraphEndRe.ReplaceAllString(xmlContent, "\n")
	s = xmlTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
