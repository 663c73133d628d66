package grpccomm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"

	"github.com/AnishMulay/simplefs/internal/communication"
	"github.com/AnishMulay/simplefs/internal/log_service"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

type GRPCCommunicator struct {
	listenAddress string
	handler       communication.MessageHandler
	grpcServer    *grpc.Server
	ls            log_service.LogService
	dialOptions   []grpc.DialOption

	clientLock sync.RWMutex
	clients    map[string]*grpc.ClientConn

	typesLock    sync.RWMutex
	payloadTypes map[string]reflect.Type

	stopped   bool
	stopMutex sync.Mutex
}

// NewGRPCCommunicator creates a communicator listening on addr. dialOpts are appended to the
// insecure transport credentials used for outgoing connections.
func NewGRPCCommunicator(addr string, ls log_service.LogService, dialOpts ...grpc.DialOption) *GRPCCommunicator {
	return &GRPCCommunicator{
		listenAddress: addr,
		ls:            ls,
		dialOptions:   dialOpts,
		clients:       make(map[string]*grpc.ClientConn),
		payloadTypes:  make(map[string]reflect.Type),
	}
}

func (c *GRPCCommunicator) Address() string {
	return c.listenAddress
}

// RegisterPayloadType sets the Go type incoming payloads of msgType are decoded into.
func (c *GRPCCommunicator) RegisterPayloadType(msgType string, payloadType reflect.Type) {
	c.typesLock.Lock()
	defer c.typesLock.Unlock()
	c.payloadTypes[msgType] = payloadType
}

func (c *GRPCCommunicator) payloadType(msgType string) (reflect.Type, bool) {
	c.typesLock.RLock()
	defer c.typesLock.RUnlock()
	t, ok := c.payloadTypes[msgType]
	return t, ok
}

func (c *GRPCCommunicator) Start(handler communication.MessageHandler) error {
	c.ls.Info(log_service.LogEvent{
		Message:  "Starting GRPC communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	lis, err := net.Listen("tcp", c.listenAddress)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to listen on address",
			Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
		})
		return fmt.Errorf("%w: %v", communication.ErrGRPCListenFailed, err)
	}
	c.listenAddress = lis.Addr().String()
	return c.Serve(lis, handler)
}

// Serve runs the server on an existing listener.
func (c *GRPCCommunicator) Serve(lis net.Listener, handler communication.MessageHandler) error {
	if handler == nil {
		return communication.ErrHandlerNotSet
	}
	c.handler = handler
	c.grpcServer = grpc.NewServer()
	c.grpcServer.RegisterService(&messageServiceDesc, &grpcServer{comm: c})

	c.ls.Info(log_service.LogEvent{
		Message:  "GRPC communicator started successfully",
		Metadata: map[string]any{"address": lis.Addr().String()},
	})

	go func() {
		if err := c.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			c.ls.Error(log_service.LogEvent{
				Message:  "GRPC server error",
				Metadata: map[string]any{"address": lis.Addr().String(), "error": err.Error()},
			})
		}
	}()
	return nil
}

func (c *GRPCCommunicator) Stop() error {
	c.stopMutex.Lock()
	defer c.stopMutex.Unlock()

	if c.stopped {
		c.ls.Debug(log_service.LogEvent{
			Message:  "GRPC communicator already stopped, skipping",
			Metadata: map[string]any{"address": c.listenAddress},
		})
		return nil
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "Stopping GRPC communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	if c.grpcServer != nil {
		c.grpcServer.GracefulStop()
	}

	var err error
	c.clientLock.Lock()
	for addr, conn := range c.clients {
		err = multierr.Append(err, conn.Close())
		delete(c.clients, addr)
	}
	c.clientLock.Unlock()

	c.stopped = true
	if err != nil {
		return fmt.Errorf("%w: %v", communication.ErrServerStopFailed, err)
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "GRPC communicator stopped successfully",
		Metadata: map[string]any{"address": c.listenAddress},
	})
	return nil
}

func (c *GRPCCommunicator) client(to string) (*grpc.ClientConn, error) {
	c.clientLock.RLock()
	conn, ok := c.clients[to]
	c.clientLock.RUnlock()
	if ok {
		return conn, nil
	}

	c.clientLock.Lock()
	defer c.clientLock.Unlock()
	if conn, ok := c.clients[to]; ok {
		return conn, nil
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "Creating new GRPC client",
		Metadata: map[string]any{"to": to},
	})

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, c.dialOptions...)
	conn, err := grpc.NewClient(to, opts...)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to create GRPC client",
			Metadata: map[string]any{"to": to, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", communication.ErrClientCreateFailed, err)
	}
	c.clients[to] = conn
	return conn, nil
}

func (c *GRPCCommunicator) Send(ctx context.Context, to string, msg communication.Message) (*communication.Response, error) {
	c.ls.Debug(log_service.LogEvent{
		Message:  "Sending GRPC message",
		Metadata: map[string]any{"to": to, "type": msg.Type, "from": msg.From},
	})

	conn, err := c.client(to)
	if err != nil {
		return nil, err
	}

	req, err := encodeRequest(msg)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to marshal payload",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, err
	}

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, sendMessageMethod, req, out); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to send GRPC message",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", communication.ErrMessageSendFailed, err)
	}

	resp, err := decodeResponse(out)
	if err != nil {
		return nil, err
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "GRPC message sent successfully",
		Metadata: map[string]any{"to": to, "type": msg.Type, "responseCode": string(resp.Code)},
	})
	return resp, nil
}

type grpcServer struct {
	comm *GRPCCommunicator
}

func (s *grpcServer) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.comm.handler == nil {
		return nil, communication.ErrHandlerNotSet
	}

	msg, err := decodeRequest(req, s.comm.payloadType)
	if err != nil {
		s.comm.ls.Warn(log_service.LogEvent{
			Message:  "Rejected malformed message",
			Metadata: map[string]any{"type": msg.Type, "error": err.Error()},
		})
		return encodeResponse(&communication.Response{
			Code: communication.CodeBadRequest,
			Body: []byte(err.Error()),
		})
	}

	resp, err := s.comm.handler(ctx, msg)
	if err != nil {
		s.comm.ls.Error(log_service.LogEvent{
			Message:  "Message handler failed",
			Metadata: map[string]any{"type": msg.Type, "error": err.Error()},
		})
		return encodeResponse(&communication.Response{
			Code: communication.CodeInternal,
			Body: []byte(err.Error()),
		})
	}

	if resp == nil {
		return encodeResponse(&communication.Response{
			Code: communication.CodeInternal,
			Body: []byte("handler returned nil response"),
		})
	}
	return encodeResponse(resp)
}

var _ communication.Communicator = (*GRPCCommunicator)(nil)
