package readers

import (
	"fmt"
	"strings"
)

type Page struct {
	Number int
	Text   string
}

// SourceRef points at a page of a document, e.g. "manual.pdf#page=3".
func SourceRef(path string, page int) string {
	return fmt.Sprintf("%s#page=%d", path, page)
}

// splitPages cuts text on form feeds. Blank pages are skipped but keep their
// number.
func splitPages(text string) []Page {
	var res []Page
	for i, p := range strings.Split(text, "\f") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		res = append(res, Page{Number: i + 1, Text: p})
	}

	return res
}
