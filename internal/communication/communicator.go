package communication

import "context"

type SandCode string

const (
	CodeOK            SandCode = "OK"
	CodeBadRequest    SandCode = "BAD_REQUEST"
	CodeNotFound      SandCode = "NOT_FOUND"
	CodeLocked        SandCode = "LOCKED"
	CodeUnavailable   SandCode = "UNAVAILABLE"
	CodeAlreadyExists SandCode = "ALREADY_EXISTS"
	CodeInternal      SandCode = "INTERNAL"
)

type Message struct {
	From    string
	Type    string
	Payload any
}

type Response struct {
	Code    SandCode
	Body    []byte
	Headers map[string]string
}

type Communicator interface {
	Start(handler MessageHandler) error
	Stop() error
	Send(ctx context.Context, to string, msg Message) (*Response, error)
	Address() string
}
