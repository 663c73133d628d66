package simple

import (
	"os"
	"os/signal"
	"syscall"

	grpccomm "github.com/AnishMulay/simplefs/internal/communication/grpc"
	"github.com/AnishMulay/simplefs/internal/config"
	"github.com/AnishMulay/simplefs/internal/log_service"
	ssimple "github.com/AnishMulay/simplefs/internal/server/simple"
	"go.uber.org/multierr"
)

type Options struct {
	Config *config.Config
	// Log overrides the backend selected by Config.Log.
	Log log_service.LogService
}

type SingleNodeServer struct {
	cfg      *config.Config
	stack    *Stack
	comm     *grpccomm.GRPCCommunicator
	server   *ssimple.SimpleServer
	closeLog func() error
}

func (s *SingleNodeServer) Start() error {
	s.stack.Log.Info(log_service.LogEvent{
		Message:  "Starting single node server",
		Metadata: map[string]any{"node": describe(s.cfg)},
	})
	return s.server.Start()
}

func (s *SingleNodeServer) Stop() error {
	err := s.server.Stop()
	err = multierr.Append(err, s.stack.Close())
	if s.closeLog != nil {
		err = multierr.Append(err, s.closeLog())
	}
	return err
}

// Address is the bound listen address, valid after Start.
func (s *SingleNodeServer) Address() string {
	return s.comm.Address()
}

func (s *SingleNodeServer) Run() error {
	if err := s.Start(); err != nil {
		return multierr.Append(err, s.Stop())
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	return s.Stop()
}

func Build(opts Options) (*SingleNodeServer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	ls := opts.Log
	var closeLog func() error
	if ls == nil {
		var err error
		ls, closeLog, err = NewLogService(cfg)
		if err != nil {
			return nil, err
		}
	}

	stack, err := OpenStack(cfg, ls)
	if err != nil {
		if closeLog != nil {
			err = multierr.Append(err, closeLog())
		}
		return nil, err
	}

	comm := grpccomm.NewGRPCCommunicator(cfg.Node.ListenAddr, ls)
	return &SingleNodeServer{
		cfg:      cfg,
		stack:    stack,
		comm:     comm,
		server:   ssimple.NewSimpleServer(comm, stack.Files, ls),
		closeLog: closeLog,
	}, nil
}
