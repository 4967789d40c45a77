package chunker

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidConfig = errors.New("invalid chunker configuration")

// DefaultSeparators go from paragraph breaks down to raw character cuts.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type Chunk struct {
	Text string
	// Offset is the position of the chunk in the input, in runes.
	Offset int
}

type Splitter struct {
	size       int
	overlap    int
	separators [][]rune
}

type Option func(*Splitter)

// WithSeparators replaces the separator layers. Without a trailing "" layer,
// pieces that cannot be split further are emitted even when larger than the
// chunk size.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) {
		s.separators = toRunes(seps)
	}
}

func New(size, overlap int, opts ...Option) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", ErrInvalidConfig, size, overlap)
	}

	s := &Splitter{
		size:       size,
		overlap:    overlap,
		separators: toRunes(DefaultSeparators),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Splitter) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return []Chunk{}
	}

	pieces := s.pieces(runes, span{0, len(runes)}, s.separators)
	spans := s.merge(pieces)

	res := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		res = append(res, Chunk{
			Text:   string(runes[sp.start:sp.end]),
			Offset: sp.start,
		})
	}

	return res
}

type span struct {
	start int
	end   int
}

func (sp span) len() int { return sp.end - sp.start }

// pieces partitions sp into contiguous pieces no longer than the chunk size,
// trying each separator layer in turn.
func (s *Splitter) pieces(text []rune, sp span, seps [][]rune) []span {
	if sp.len() <= s.size || len(seps) == 0 {
		return []span{sp}
	}

	sep, rest := seps[0], seps[1:]
	if len(sep) == 0 {
		var res []span
		for pos := sp.start; pos < sp.end; pos += s.size {
			res = append(res, span{pos, min(pos+s.size, sp.end)})
		}
		return res
	}

	parts := splitKeep(text, sp, sep)
	if len(parts) == 1 {
		return s.pieces(text, sp, rest)
	}

	var res []span
	for _, p := range parts {
		if p.len() <= s.size {
			res = append(res, p)
			continue
		}
		res = append(res, s.pieces(text, p, rest)...)
	}

	return res
}

// merge joins consecutive pieces into chunks and carries up to overlap runes
// of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []span) []span {
	var (
		res     []span
		current []span
		total   int
	)

	emit := func() {
		res = append(res, span{current[0].start, current[len(current)-1].end})
	}

	for _, p := range pieces {
		if len(current) > 0 && total+p.len() > s.size {
			emit()
			for len(current) > 0 && (total > s.overlap || total+p.len() > s.size) {
				total -= current[0].len()
				current = current[1:]
			}
		}

		current = append(current, p)
		total += p.len()
	}

	if len(current) > 0 {
		last := span{current[0].start, current[len(current)-1].end}
		if len(res) == 0 || res[len(res)-1].end < last.end {
			res = append(res, last)
		}
	}

	return res
}

// splitKeep cuts sp after every occurrence of sep, keeping the separator at
// the end of the preceding part.
func splitKeep(text []rune, sp span, sep []rune) []span {
	var res []span
	start := sp.start
	for i := sp.start; i+len(sep) <= sp.end; {
		if slices.Equal(text[i:i+len(sep)], sep) {
			i += len(sep)
			res = append(res, span{start, i})
			start = i
			continue
		}
		i++
	}

	if start < sp.end {
		res = append(res, span{start, sp.end})
	}

	return res
}

func toRunes(seps []string) [][]rune {
	res := make([][]rune, 0, len(seps))
	for _, s := range seps {
		res = append(res, []rune(s))
	}
	return res
}
