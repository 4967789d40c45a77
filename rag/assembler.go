package rag

import (
	"strings"
	"unicode/utf8"

	"github.com/gamma-omg/pdf-qa/docstore"
)

const contextSeparator = "\n\n"

// Assembler joins ranked passages into the context handed to the model.
// MaxChars <= 0 disables the budget.
type Assembler struct {
	MaxChars int
}

func (a Assembler) Assemble(results []docstore.SearchResult) string {
	text, _ := a.assemble(results)
	return text
}

// assemble also reports how many leading results made it into the context.
func (a Assembler) assemble(results []docstore.SearchResult) (string, int) {
	var (
		sb    strings.Builder
		total int
		used  int
	)

	for i, r := range results {
		n := utf8.RuneCountInString(r.Text)
		if i > 0 {
			n += utf8.RuneCountInString(contextSeparator)
		}

		if a.MaxChars > 0 && total+n > a.MaxChars {
			if i == 0 {
				sb.WriteString(string([]rune(r.Text)[:a.MaxChars]))
				used = 1
			}
			break
		}

		if i > 0 {
			sb.WriteString(contextSeparator)
		}
		sb.WriteString(r.Text)
		total += n
		used++
	}

	return sb.String(), used
}
