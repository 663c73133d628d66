package fslib

import (
	"errors"

	"github.com/AnishMulay/simplefs/internal/communication"
)

var (
	ErrLocked      = errors.New("file is locked")
	ErrUnavailable = errors.New("server out of resources")
	ErrBadRequest  = errors.New("bad request")
)

// Client talks to one simplefs server. All descriptors opened through a client belong to the
// same server-side process, identified by ID.
type Client struct {
	ServerAddr string
	ID         string
	Comm       communication.Communicator
}
