package embedding

import (
	"errors"
	"fmt"
)

var ErrEmbedding = errors.New("embedding failed")

// Error names the text that could not be embedded. Index is the position of
// the text in the input of the failed call.
type Error struct {
	Index int
	Text  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to embed text #%d %q: %v", e.Index, preview(e.Text), e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrEmbedding, e.Err}
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= 60 {
		return text
	}
	return string(r[:60]) + "..."
}
