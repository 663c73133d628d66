package server

// Server exposes a file service over a communicator.
type Server interface {
	Start() error
	Stop() error
}
