package loader_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"github.com/halcyonsec/quest/internal/models"
	"github.com/halcyonsec/quest/pkg/loader"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDirText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "encryption.txt", "Data is encrypted at rest using AES-256.")

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, skipped, err := l.LoadDir(context.Background(), dir)

	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, docs, 1)
	assert.Equal(t, "encryption.txt", docs[0].SourceID)
	assert.Equal(t, models.TypeText, docs[0].Type)
	assert.Equal(t, 1, docs[0].PageNumber)
	assert.Equal(t, "Data is encrypted at rest using AES-256.", docs[0].Content)
}

func TestLoadDirIgnoresUnknownExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.md", "# not a supported format")
	writeFile(t, dir, "image.png", "binary junk")
	writeFile(t, dir, "policy.txt", "Access reviews happen quarterly.")

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, skipped, err := l.LoadDir(context.Background(), dir)

	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, docs, 1)
	assert.Equal(t, "policy.txt", docs[0].SourceID)
}

func TestLoadDirSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.pdf", "this is not a pdf at all")
	writeFile(t, dir, "broken.xlsx", "nor is this a spreadsheet")
	writeFile(t, dir, "ok.txt", "Incident response plan is reviewed annually.")

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, skipped, err := l.LoadDir(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, docs, 1)
	assert.Equal(t, "ok.txt", docs[0].SourceID)
}

func TestLoadDirSpreadsheet(t *testing.T) {
	dir := t.TempDir()

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Control", "Status"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"MFA", "Enforced"}))
	require.NoError(t, f.SaveAs(filepath.Join(dir, "controls.xlsx")))
	require.NoError(t, f.Close())

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, skipped, err := l.LoadDir(context.Background(), dir)

	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, docs, 1)
	assert.Equal(t, models.TypeSpreadsheet, docs[0].Type)
	assert.Contains(t, docs[0].Content, "Control | Status")
	assert.Contains(t, docs[0].Content, "MFA | Enforced")
}

func TestLoadDirWalksSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "soc2")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeFile(t, sub, "availability.txt", "Uptime target is 99.9 percent.")

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, _, err := l.LoadDir(context.Background(), dir)

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "availability.txt", docs[0].SourceID)
}

func TestTypeForExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want models.DocumentType
		ok   bool
	}{
		{".pdf", models.TypePDF, true},
		{".docx", models.TypeWord, true},
		{".xlsx", models.TypeSpreadsheet, true},
		{".txt", models.TypeText, true},
		{".md", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := models.TypeForExtension(tt.ext)
		assert.Equal(t, tt.ok, ok, tt.ext)
		assert.Equal(t, tt.want, got, tt.ext)
	}
}
