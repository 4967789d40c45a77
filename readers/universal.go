package readers

import (
	"fmt"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv/v2"
)

// UniversalFileReader reads every format docconv can convert. PDFs are read
// page by page, other formats come back as a single page.
type UniversalFileReader struct {
}

func (r *UniversalFileReader) CanRead(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".docx", ".odt", ".pdf", ".xml":
		return true
	}
	return false
}

func (r *UniversalFileReader) ReadText(path string) (string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}

	return res.Body, nil
}

func (r *UniversalFileReader) ReadPages(path string) ([]Page, error) {
	if pdf := (&PdfFileReader{}); pdf.CanRead(path) {
		return pdf.ReadPages(path)
	}

	text, err := r.ReadText(path)
	if err != nil {
		return nil, err
	}

	return splitPages(text), nil
}
