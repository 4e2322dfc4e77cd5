package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/halcyonsec/quest/internal/models"
	"github.com/halcyonsec/quest/pkg/scraper"
)

type LoaderConfig struct {
	URLsFile string // filename inside the corpus dir listing pages to scrape
	Scraper  *scraper.Scraper
	Logger   zerolog.Logger
}

// Loader reads a directory tree of mixed-format policy documents into
// SourceDocuments. Extraction is dispatched by extension through the closed
// DocumentType mapping; a failure on one file is logged and the file skipped,
// never aborting the batch.
type Loader struct {
	config LoaderConfig
}

func NewWithConfig(config LoaderConfig) Loader {
	if config.URLsFile == "" {
		config.URLsFile = "urls.txt"
	}
	if config.Scraper == nil {
		config.Scraper = scraper.NewWithConfig(scraper.ScraperConfig{Logger: config.Logger})
	}

	return Loader{config: config}
}

// LoadDir walks dir and extracts every supported file, plus any web pages
// listed in the urls file. Returns the documents and the number of skipped
// inputs. Output ordering is not significant.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]models.SourceDocument, int, error) {
	var docs []models.SourceDocument
	skipped := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		if d.Name() == l.config.URLsFile {
			web, webSkipped := l.loadURLs(ctx, path)
			docs = append(docs, web...)
			skipped += webSkipped
			return nil
		}

		docType, ok := models.TypeForExtension(strings.ToLower(filepath.Ext(path)))
		if !ok {
			return nil // unrecognized extension, ignore
		}

		extracted, err := l.extract(path, docType)
		if err != nil {
			l.config.Logger.Warn().Err(err).Str("file", path).Msg("skipping file")
			skipped++
			return nil
		}
		docs = append(docs, extracted...)
		return nil
	})
	if err != nil {
		return nil, skipped, fmt.Errorf("failed to walk corpus dir: %w", err)
	}

	return docs, skipped, nil
}

func (l *Loader) extract(path string, docType models.DocumentType) ([]models.SourceDocument, error) {
	switch docType {
	case models.TypePDF:
		return loadPDF(path)
	case models.TypeWord:
		return loadWord(path)
	case models.TypeSpreadsheet:
		return loadSpreadsheet(path)
	case models.TypeText:
		return loadText(path)
	}
	return nil, fmt.Errorf("no extraction strategy for type %s", docType)
}

// loadPDF extracts the text layer page by page, one SourceDocument per page.
// Pages that cannot be parsed are dropped; the file only fails as a whole
// when the reader cannot open it.
func loadPDF(path string) ([]models.SourceDocument, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	var docs []models.SourceDocument

	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		docs = append(docs, models.SourceDocument{
			SourceID:   name,
			Content:    text,
			PageNumber: i,
			Type:       models.TypePDF,
		})
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", name)
	}
	return docs, nil
}

// loadWord extracts paragraph text from a .docx file.
func loadWord(path string) ([]models.SourceDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	parsed, err := docx.Parse(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse docx: %w", err)
	}

	var paragraphs []string
	for _, item := range parsed.Document.Body.Items {
		if s, ok := item.(fmt.Stringer); ok {
			if text := strings.TrimSpace(s.String()); text != "" {
				paragraphs = append(paragraphs, text)
			}
		}
	}

	content := strings.Join(paragraphs, "\n\n")
	if content == "" {
		return nil, fmt.Errorf("no extractable text in %s", filepath.Base(path))
	}

	return []models.SourceDocument{{
		SourceID:   filepath.Base(path),
		Content:    content,
		PageNumber: 1,
		Type:       models.TypeWord,
	}}, nil
}

// loadSpreadsheet serializes every row of every sheet to one line of text.
func loadSpreadsheet(path string) ([]models.SourceDocument, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " | "))
			if line != "" && strings.Trim(line, " |") != "" {
				lines = append(lines, line)
			}
		}
	}

	content := strings.Join(lines, "\n")
	if content == "" {
		return nil, fmt.Errorf("no extractable text in %s", filepath.Base(path))
	}

	return []models.SourceDocument{{
		SourceID:   filepath.Base(path),
		Content:    content,
		PageNumber: 1,
		Type:       models.TypeSpreadsheet,
	}}, nil
}

func loadText(path string) ([]models.SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("empty text file %s", filepath.Base(path))
	}

	return []models.SourceDocument{{
		SourceID:   filepath.Base(path),
		Content:    content,
		PageNumber: 1,
		Type:       models.TypeText,
	}}, nil
}

func (l *Loader) loadURLs(ctx context.Context, path string) ([]models.SourceDocument, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.config.Logger.Warn().Err(err).Str("file", path).Msg("skipping urls file")
		return nil, 1
	}

	return l.config.Scraper.ScrapeAll(ctx, strings.Split(string(data), "\n"))
}
