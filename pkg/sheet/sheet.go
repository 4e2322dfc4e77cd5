package sheet

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/halcyonsec/quest/internal/models"
)

// Output columns appended to the questionnaire, after the original ones.
var responseColumns = []string{"AI Response", "Confidence Status", "Source Documents"}

// Questionnaire is a tabular batch of questions read from CSV or XLSX. The
// input must carry a "Question" column; all original columns are preserved
// in the output.
type Questionnaire struct {
	Header      []string
	Rows        [][]string
	questionCol int
}

// Read loads a questionnaire, dispatching on the file extension (.csv or
// .xlsx).
func Read(path string) (*Questionnaire, error) {
	var records [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = readCSV(path)
	case ".xlsx":
		records, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported questionnaire format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("questionnaire %s is empty", path)
	}

	header := records[0]
	questionCol := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "Question") {
			questionCol = i
			break
		}
	}
	if questionCol < 0 {
		return nil, fmt.Errorf("questionnaire must have a column named Question")
	}

	return &Questionnaire{
		Header:      header,
		Rows:        records[1:],
		questionCol: questionCol,
	}, nil
}

// Questions returns the question text of every row, in row order. Rows with
// an empty question cell are kept (as empty strings) so output rows stay
// aligned with input rows.
func (q *Questionnaire) Questions() []string {
	out := make([]string, len(q.Rows))
	for i, row := range q.Rows {
		if q.questionCol < len(row) {
			out[i] = strings.TrimSpace(row[q.questionCol])
		}
	}
	return out
}

// WriteResponses writes the questionnaire to a new file with the response
// columns appended, one response row per input row.
func (q *Questionnaire) WriteResponses(path string, responses []models.QuestionResponse) error {
	if len(responses) != len(q.Rows) {
		return fmt.Errorf("got %d responses for %d rows", len(responses), len(q.Rows))
	}

	// CSV input is ragged: rows may be narrower or wider than the header.
	// Pad everything to the widest extent so the response columns align.
	width := len(q.Header)
	for _, row := range q.Rows {
		if len(row) > width {
			width = len(row)
		}
	}

	records := [][]string{append(pad(q.Header, width), responseColumns...)}

	for i, row := range q.Rows {
		resp := responses[i]
		records = append(records, append(pad(row, width),
			resp.Answer,
			string(resp.Status),
			strings.Join(resp.Evidence, "; "),
		))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return writeCSV(path, records)
	case ".xlsx":
		return writeXLSX(path, records)
	}
	return fmt.Errorf("unsupported output format: %s", filepath.Ext(path))
}

func pad(cells []string, width int) []string {
	out := make([]string, width)
	copy(out, cells)
	return out
}

// OutputPath derives the default output filename for an input questionnaire.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_responses" + ext
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in %s", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

func writeXLSX(path string, records [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := make([]interface{}, len(record))
		for j, v := range record {
			row[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	return f.SaveAs(path)
}
