package simple

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/AnishMulay/simplefs/internal/communication"
	fs "github.com/AnishMulay/simplefs/internal/file_service"
	"github.com/AnishMulay/simplefs/internal/log_service"
	ps "github.com/AnishMulay/simplefs/internal/server"
	"go.uber.org/multierr"
)

// PayloadRegistrar is implemented by communicators that decode payloads into typed structs.
type PayloadRegistrar interface {
	RegisterPayloadType(msgType string, payloadType reflect.Type)
}

type SimpleServer struct {
	comm communication.Communicator
	fs   fs.FileService
	ls   log_service.LogService

	sessionMu sync.Mutex
	sessions  map[string]uint32
	nextPid   uint32
}

func NewSimpleServer(comm communication.Communicator, files fs.FileService, ls log_service.LogService) *SimpleServer {
	return &SimpleServer{
		comm:     comm,
		fs:       files,
		ls:       ls,
		sessions: make(map[string]uint32),
		nextPid:  1,
	}
}

func (s *SimpleServer) Start() error {
	s.ls.Info(log_service.LogEvent{Message: "Starting Simple Server"})

	// 1. Register Payload Types with Communicator
	if reg, ok := s.comm.(PayloadRegistrar); ok {
		s.registerPayloads(reg)
	}

	// 2. Start File Service
	if err := s.fs.Start(); err != nil {
		return fmt.Errorf("%w: %v", ps.ErrServerStartFailed, err)
	}

	// 3. Start Communicator with our central handler
	if err := s.comm.Start(s.handleMessage); err != nil {
		return fmt.Errorf("%w: %v", ps.ErrServerStartFailed, err)
	}
	return nil
}

func (s *SimpleServer) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping Simple Server"})

	var err error
	err = multierr.Append(err, s.comm.Stop())

	s.sessionMu.Lock()
	for client, pid := range s.sessions {
		err = multierr.Append(err, s.fs.Exit(context.Background(), pid))
		delete(s.sessions, client)
	}
	s.sessionMu.Unlock()

	err = multierr.Append(err, s.fs.Stop())
	if err != nil {
		s.ls.Error(log_service.LogEvent{Message: "Failed to stop cleanly", Metadata: map[string]any{"error": err.Error()}})
		return fmt.Errorf("%w: %v", ps.ErrServerStopFailed, err)
	}
	return nil
}

func (s *SimpleServer) registerPayloads(reg PayloadRegistrar) {
	reg.RegisterPayloadType(ps.MsgOpen, reflect.TypeOf(ps.OpenRequest{}))
	reg.RegisterPayloadType(ps.MsgCreate, reflect.TypeOf(ps.CreateRequest{}))
	reg.RegisterPayloadType(ps.MsgDelete, reflect.TypeOf(ps.DeleteRequest{}))
	reg.RegisterPayloadType(ps.MsgClose, reflect.TypeOf(ps.CloseRequest{}))
	reg.RegisterPayloadType(ps.MsgExit, reflect.TypeOf(ps.ExitRequest{}))
	reg.RegisterPayloadType(ps.MsgList, reflect.TypeOf(ps.ListRequest{}))
	reg.RegisterPayloadType(ps.MsgStats, reflect.TypeOf(ps.StatsRequest{}))
	reg.RegisterPayloadType(ps.MsgRead, reflect.TypeOf(ps.ReadRequest{}))
	reg.RegisterPayloadType(ps.MsgWrite, reflect.TypeOf(ps.WriteRequest{}))
	reg.RegisterPayloadType(ps.MsgSave, reflect.TypeOf(ps.SaveRequest{}))
	reg.RegisterPayloadType(ps.MsgOpenFiles, reflect.TypeOf(ps.OpenFilesRequest{}))
	reg.RegisterPayloadType(ps.MsgOpenCount, reflect.TypeOf(ps.OpenCountRequest{}))
}

// pidFor returns the process id bound to client, binding a new one on first use.
func (s *SimpleServer) pidFor(client string) uint32 {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if pid, ok := s.sessions[client]; ok {
		return pid
	}
	pid := s.nextPid
	s.nextPid++
	s.sessions[client] = pid

	s.ls.Debug(log_service.LogEvent{
		Message:  "Bound client session",
		Metadata: map[string]any{"client": client, "pid": pid},
	})
	return pid
}

func (s *SimpleServer) endSession(client string) (uint32, bool) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	pid, ok := s.sessions[client]
	delete(s.sessions, client)
	return pid, ok
}

func payload[T any](msg communication.Message) (T, error) {
	req, ok := msg.Payload.(T)
	if !ok && msg.Payload != nil {
		return req, fmt.Errorf("%w: %s got %T", ps.ErrInvalidPayloadType, msg.Type, msg.Payload)
	}
	return req, nil
}

// Central Router for all incoming messages
func (s *SimpleServer) handleMessage(ctx context.Context, msg communication.Message) (*communication.Response, error) {
	switch msg.Type {
	// --- 0. PING ---
	case ps.MsgPing:
		return s.respond(nil, nil)

	// --- 1. OPEN ---
	case ps.MsgOpen:
		req, err := payload[ps.OpenRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		mode := fs.ReadOnly
		if req.Write {
			mode = fs.ReadWrite
		}
		fd, err := s.fs.Open(ctx, s.pidFor(msg.From), req.Name, mode)
		return s.respond(ps.OpenResponse{FD: fd}, err)

	// --- 2. CREATE ---
	case ps.MsgCreate:
		req, err := payload[ps.CreateRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.CreateEmpty(ctx, s.pidFor(msg.From), req.Name, req.Pages))

	// --- 3. DELETE ---
	case ps.MsgDelete:
		req, err := payload[ps.DeleteRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Delete(ctx, s.pidFor(msg.From), req.Name))

	// --- 4. CLOSE ---
	case ps.MsgClose:
		req, err := payload[ps.CloseRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Close(ctx, s.pidFor(msg.From), req.FD))

	// --- 5. EXIT ---
	case ps.MsgExit:
		pid, ok := s.endSession(msg.From)
		if !ok {
			return s.respond(nil, nil)
		}
		return s.respond(nil, s.fs.Exit(ctx, pid))

	// --- 6. LIST ---
	case ps.MsgList:
		entries, err := s.fs.ListDirectory(ctx)
		if err != nil {
			return s.respond(nil, err)
		}
		out := make([]ps.DirEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, ps.DirEntry{
				Inode:       e.Inode,
				Name:        e.Name,
				Size:        e.Size,
				ModTime:     e.ModTime,
				FileType:    e.FileType,
				Permissions: e.PermissionString(),
			})
		}
		return s.respond(out, nil)

	// --- 7. STATS ---
	case ps.MsgStats:
		st, err := s.fs.Stats(ctx)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(ps.StatsResponse{
			VolumeID:    st.VolumeID,
			Name:        st.Name,
			BlockSize:   st.BlockSize,
			TotalBlocks: st.TotalBlocks,
			UsedBlocks:  st.UsedBlocks,
			FreeBlocks:  st.FreeBlocks,
			TotalBytes:  st.TotalBytes,
			UsedBytes:   st.UsedBytes,
			FreeBytes:   st.FreeBytes,
			TotalInodes: st.TotalInodes,
			FreeInodes:  st.FreeInodes,
			NextBlock:   st.NextBlock,
			NextInode:   st.NextInode,
			OpenFiles:   st.OpenFiles,
		}, nil)

	// --- 8. READ ---
	case ps.MsgRead:
		req, err := payload[ps.ReadRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		data, err := s.fs.Read(ctx, s.pidFor(msg.From), req.FD)
		return s.respond(ps.ReadResponse{Data: data}, err)

	// --- 9. WRITE ---
	case ps.MsgWrite:
		req, err := payload[ps.WriteRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Write(ctx, s.pidFor(msg.From), req.FD, req.Offset, req.Data))

	// --- 10. SAVE ---
	case ps.MsgSave:
		req, err := payload[ps.SaveRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.fs.Save(ctx, s.pidFor(msg.From), req.FD))

	// --- 11. OPEN FILES ---
	case ps.MsgOpenFiles:
		files, err := s.fs.ShowOpenFiles(ctx, s.pidFor(msg.From))
		if err != nil {
			return s.respond(nil, err)
		}
		out := make([]ps.OpenFile, 0, len(files))
		for _, f := range files {
			out = append(out, ps.OpenFile{FD: f.FD, Name: f.Name, Inode: f.Inode, Mode: f.Mode.String(), Pages: f.Pages})
		}
		return s.respond(out, nil)

	// --- 12. OPEN COUNT ---
	case ps.MsgOpenCount:
		return s.respond(ps.CountResponse{Count: s.fs.OpenFileCount(ctx)}, nil)

	default:
		return &communication.Response{
			Code: communication.CodeBadRequest,
			Body: []byte(fmt.Sprintf("%v: %s", ps.ErrUnknownMessageType, msg.Type)),
		}, nil
	}
}

// codeFor maps file service errors onto response codes.
func codeFor(err error) communication.SandCode {
	switch {
	case errors.Is(err, fs.ErrFileNotFound), errors.Is(err, fs.ErrBadDescriptor):
		return communication.CodeNotFound
	case errors.Is(err, fs.ErrFileLocked), errors.Is(err, fs.ErrFileBusy):
		return communication.CodeLocked
	case errors.Is(err, fs.ErrNoSpace), errors.Is(err, fs.ErrDirectoryFull),
		errors.Is(err, fs.ErrTooManyOpenFiles), errors.Is(err, fs.ErrOutOfMemory):
		return communication.CodeUnavailable
	case errors.Is(err, fs.ErrInvalidName), errors.Is(err, fs.ErrReadOnly),
		errors.Is(err, fs.ErrOutOfRange), errors.Is(err, fs.ErrFileTooLarge),
		errors.Is(err, ps.ErrInvalidPayloadType):
		return communication.CodeBadRequest
	case errors.Is(err, fs.ErrFileExists):
		return communication.CodeAlreadyExists
	default:
		return communication.CodeInternal
	}
}

// respond is a helper to standardize JSON responses and error codes
func (s *SimpleServer) respond(data any, err error) (*communication.Response, error) {
	if err != nil {
		return &communication.Response{
			Code: codeFor(err),
			Body: []byte(err.Error()),
		}, nil
	}

	if data == nil {
		return &communication.Response{Code: communication.CodeOK}, nil
	}

	bytes, marshalErr := json.Marshal(data)
	if marshalErr != nil {
		return &communication.Response{
			Code: communication.CodeInternal,
			Body: []byte("failed to marshal response: " + marshalErr.Error()),
		}, nil
	}

	return &communication.Response{
		Code: communication.CodeOK,
		Body: bytes,
	}, nil
}

var _ ps.Server = (*SimpleServer)(nil)
