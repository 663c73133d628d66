package page_service

import "errors"

var (
	ErrOutOfPages       = errors.New("out of memory pages")
	ErrInvalidPageCount = errors.New("invalid page count")
	ErrUnknownBuffer    = errors.New("buffer not owned by process")
)
