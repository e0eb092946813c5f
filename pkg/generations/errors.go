package generations

import "errors"

var (
	ErrProfileNotFound    = errors.New("no profile found")
	ErrNoGenerations      = errors.New("no generations found")
	ErrNoOlderGeneration  = errors.New("no generation older than the current one exists")
	ErrCurrentNotFound    = errors.New("current generation not found")
	ErrGenerationNotFound = errors.New("generation not found")
)
