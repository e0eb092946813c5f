package nix

import "errors"

var (
	ErrUnterminatedQuote = errors.New("unterminated quote in attribute path")
	ErrVersionNotFound   = errors.New("unable to determine the nix version")
	ErrOutdatedVersion   = errors.New("installed nix version is too old")
	ErrMissingFeatures   = errors.New("missing required experimental features")
)
