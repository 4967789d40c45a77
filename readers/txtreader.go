package readers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type TxtFileReader struct{}

func (r *TxtFileReader) CanRead(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".txt" || ext == ".md"
}

func (r *TxtFileReader) ReadText(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}

	return string(buf), nil
}

func (r *TxtFileReader) ReadPages(path string) ([]Page, error) {
	text, err := r.ReadText(path)
	if err != nil {
		return nil, err
	}

	return splitPages(text), nil
}
