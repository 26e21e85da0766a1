package task

import "errors"

var (
	// ErrNotFound is returned when neither metadata nor any bucket knows a file.
	ErrNotFound = errors.New("file not found")
	// ErrIncompleteDownload is returned when a file cannot be fully reassembled.
	ErrIncompleteDownload = errors.New("incomplete download")
)
