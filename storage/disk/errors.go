package disk

import "errors"

// Sentinel errors returned by the disk manager and, wrapped with %w at
// each call site further up the stack, by the buffer pool and hash index.
var (
	ErrFileNotOpen      = errors.New("disk manager: file not open")
	ErrShortIO          = errors.New("disk manager: short read or write")
	ErrBadMagic         = errors.New("disk manager: page file has an unrecognized header")
	ErrPageSizeMismatch = errors.New("disk manager: configured page size does not match file header")
	ErrFileExists       = errors.New("disk manager: database file already exists")
	ErrFileNotFound     = errors.New("disk manager: database file not found")
)
