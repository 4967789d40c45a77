package rag

import "errors"

var (
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrAnswerGeneration = errors.New("answer generation failed")
	ErrUnsupportedFile  = errors.New("unsupported file type")
)
