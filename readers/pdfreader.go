package readers

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"code.sajari.com/docconv/v2"
)

type PdfFileReader struct {
}

func (r *PdfFileReader) CanRead(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pdf"
}

func (r *PdfFileReader) ReadText(path string) (string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf document: %w", err)
	}

	return res.Body, nil
}

// ReadPages converts the whole document once for its page count, then
// extracts every page on its own. docconv drops page breaks, so its body alone
// cannot be split.
func (r *PdfFileReader) ReadPages(path string) ([]Page, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf document: %w", err)
	}

	count, err := strconv.Atoi(res.Meta["Pages"])
	if err != nil || count <= 1 {
		return splitPages(res.Body), nil
	}

	return readPages(count, func(n int) (string, error) {
		return pdfPageText(path, n)
	})
}

func pdfPageText(path string, n int) (string, error) {
	page := strconv.Itoa(n)
	out, err := exec.Command("pdftotext", "-q", "-nopgbrk", "-f", page, "-l", page, "-enc", "UTF-8", "-eol", "unix", path, "-").Output()
	if err != nil {
		return "", err
	}

	return string(out), nil
}

// readPages numbers pages from 1 and skips blank ones.
func readPages(count int, extract func(n int) (string, error)) ([]Page, error) {
	var res []Page
	for n := 1; n <= count; n++ {
		text, err := extract(n)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", n, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		res = append(res, Page{Number: n, Text: text})
	}

	return res, nil
}
