package deploy

import "errors"

var (
	ErrUserRejected          = errors.New("user rejected the new configuration")
	ErrRunAsRoot             = errors.New("refusing to run as root, privileged steps elevate themselves as needed")
	ErrConfigurationNotFound = errors.New("configuration attribute not found")
	ErrStoreRepl             = errors.New("store installables are not supported by the repl")
	ErrMissingEnv            = errors.New("required environment variable is not set")
)
