package models

// DocumentType is a closed set of supported source formats. The loader picks
// one extraction strategy per type; unrecognized extensions are ignored.
type DocumentType string

const (
	TypePDF         DocumentType = "pdf"
	TypeWord        DocumentType = "word"
	TypeSpreadsheet DocumentType = "spreadsheet"
	TypeText        DocumentType = "text"
	TypeWeb         DocumentType = "web"
)

// TypeForExtension maps a lowercase file extension (including the dot) to a
// DocumentType. Web documents never come from the filesystem, so they have no
// extension mapping.
func TypeForExtension(ext string) (DocumentType, bool) {
	switch ext {
	case ".pdf":
		return TypePDF, true
	case ".docx":
		return TypeWord, true
	case ".xlsx":
		return TypeSpreadsheet, true
	case ".txt":
		return TypeText, true
	}
	return "", false
}

// SourceDocument is the raw text extracted from one input file or web page.
// PDFs produce one SourceDocument per page; everything else uses page 1.
// Immutable after loading.
type SourceDocument struct {
	SourceID   string // filename or URL
	Content    string
	PageNumber int
	Type       DocumentType
}

// Chunk is a contiguous slice of a SourceDocument sized for the embedding
// context budget. Consecutive chunks from the same document share the
// configured overlap.
type Chunk struct {
	Text       string
	SourceID   string
	PageNumber int
	ChunkIndex int
}

// ScoredChunk is a retrieved chunk with its similarity score.
type ScoredChunk struct {
	Chunk
	Score float64
}
