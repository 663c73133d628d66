package simple

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/AnishMulay/simplefs/internal/communication"
	fs "github.com/AnishMulay/simplefs/internal/file_service"
	"github.com/AnishMulay/simplefs/internal/log_service/memory"
	ps "github.com/AnishMulay/simplefs/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFileService records the pid of every call and returns err when set.
type fakeFileService struct {
	err     error
	pids    []uint32
	exited  []uint32
	written []byte
}

func (f *fakeFileService) Start() error { return nil }
func (f *fakeFileService) Stop() error  { return nil }

func (f *fakeFileService) Open(ctx context.Context, pid uint32, name string, mode fs.Mode) (int, error) {
	f.pids = append(f.pids, pid)
	if f.err != nil {
		return -1, f.err
	}
	if mode == fs.ReadWrite {
		return 4, nil
	}
	return 3, nil
}

func (f *fakeFileService) CreateEmpty(ctx context.Context, pid uint32, name string, pages uint32) error {
	f.pids = append(f.pids, pid)
	return f.err
}

func (f *fakeFileService) Delete(ctx context.Context, pid uint32, name string) error {
	f.pids = append(f.pids, pid)
	return f.err
}

func (f *fakeFileService) Close(ctx context.Context, pid uint32, fd int) error { return f.err }

func (f *fakeFileService) Exit(ctx context.Context, pid uint32) error {
	f.exited = append(f.exited, pid)
	return nil
}

func (f *fakeFileService) ListDirectory(ctx context.Context) ([]fs.DirEntryInfo, error) {
	return []fs.DirEntryInfo{{Inode: 1, Name: "a", Size: 4096, ModTime: time.Unix(0, 0).UTC(), FileType: 1, User: 6, Group: 6, Other: 4}}, f.err
}

func (f *fakeFileService) Stats(ctx context.Context) (fs.VolumeStats, error) {
	return fs.VolumeStats{TotalBlocks: 10, UsedBlocks: 4, NextBlock: 5}, f.err
}

func (f *fakeFileService) Read(ctx context.Context, pid uint32, fd int) ([]byte, error) {
	return []byte("data"), f.err
}

func (f *fakeFileService) Write(ctx context.Context, pid uint32, fd int, offset uint32, data []byte) error {
	f.written = data
	return f.err
}

func (f *fakeFileService) Save(ctx context.Context, pid uint32, fd int) error { return f.err }

func (f *fakeFileService) ShowOpenFiles(ctx context.Context, pid uint32) ([]fs.OpenFileInfo, error) {
	return []fs.OpenFileInfo{{FD: 3, Name: "a", Inode: 1, Mode: fs.ReadWrite, Pages: 1}}, f.err
}

func (f *fakeFileService) OpenFileCount(ctx context.Context) int { return 5 }

type nopCommunicator struct{ stopped bool }

func (c *nopCommunicator) Start(handler communication.MessageHandler) error { return nil }
func (c *nopCommunicator) Stop() error                                      { c.stopped = true; return nil }
func (c *nopCommunicator) Address() string                                  { return "nop" }
func (c *nopCommunicator) Send(ctx context.Context, to string, msg communication.Message) (*communication.Response, error) {
	return nil, nil
}

func newTestServer(files fs.FileService) *SimpleServer {
	return NewSimpleServer(&nopCommunicator{}, files, memory.NewMemoryLogService())
}

func TestHandleMessage_ErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode communication.SandCode
	}{
		{"success", nil, communication.CodeOK},
		{"not found", fmt.Errorf("%w: x", fs.ErrFileNotFound), communication.CodeNotFound},
		{"locked", fs.ErrFileLocked, communication.CodeLocked},
		{"busy", fs.ErrFileBusy, communication.CodeLocked},
		{"no space", fs.ErrNoSpace, communication.CodeUnavailable},
		{"table full", fs.ErrTooManyOpenFiles, communication.CodeUnavailable},
		{"invalid name", fs.ErrInvalidName, communication.CodeBadRequest},
		{"exists", fs.ErrFileExists, communication.CodeAlreadyExists},
		{"corrupt", fs.ErrCorrupt, communication.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeFileService{err: tt.err})
			resp, err := srv.handleMessage(context.Background(), communication.Message{
				From:    "c1",
				Type:    ps.MsgCreate,
				Payload: ps.CreateRequest{Name: "a", Pages: 1},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.err != nil {
				assert.Contains(t, string(resp.Body), tt.err.Error())
			}
		})
	}
}

func TestHandleMessage_SessionsBindPids(t *testing.T) {
	files := &fakeFileService{}
	srv := newTestServer(files)
	ctx := context.Background()

	for _, from := range []string{"c1", "c2", "c1"} {
		resp, err := srv.handleMessage(ctx, communication.Message{From: from, Type: ps.MsgOpen, Payload: ps.OpenRequest{Name: "a"}})
		require.NoError(t, err)
		require.Equal(t, communication.CodeOK, resp.Code)
	}
	assert.Equal(t, []uint32{1, 2, 1}, files.pids)

	resp, err := srv.handleMessage(ctx, communication.Message{From: "c1", Type: ps.MsgExit})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeOK, resp.Code)
	assert.Equal(t, []uint32{1}, files.exited)

	// a new session gets a fresh pid
	_, err = srv.handleMessage(ctx, communication.Message{From: "c1", Type: ps.MsgDelete, Payload: ps.DeleteRequest{Name: "a"}})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), files.pids[len(files.pids)-1])

	require.NoError(t, srv.Stop())
	assert.ElementsMatch(t, []uint32{1, 2, 3}, files.exited)
}

func TestHandleMessage_Payloads(t *testing.T) {
	files := &fakeFileService{}
	srv := newTestServer(files)
	ctx := context.Background()

	resp, err := srv.handleMessage(ctx, communication.Message{From: "c", Type: ps.MsgOpen, Payload: ps.OpenRequest{Name: "a", Write: true}})
	require.NoError(t, err)
	var open ps.OpenResponse
	require.NoError(t, json.Unmarshal(resp.Body, &open))
	assert.Equal(t, 4, open.FD)

	resp, err = srv.handleMessage(ctx, communication.Message{From: "c", Type: ps.MsgList})
	require.NoError(t, err)
	var entries []ps.DirEntry
	require.NoError(t, json.Unmarshal(resp.Body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "rw-rw-r--", entries[0].Permissions)

	resp, err = srv.handleMessage(ctx, communication.Message{From: "c", Type: ps.MsgStats})
	require.NoError(t, err)
	var stats ps.StatsResponse
	require.NoError(t, json.Unmarshal(resp.Body, &stats))
	assert.Equal(t, uint32(5), stats.NextBlock)

	resp, err = srv.handleMessage(ctx, communication.Message{From: "c", Type: ps.MsgRead, Payload: ps.ReadRequest{FD: 3}})
	require.NoError(t, err)
	var read ps.ReadResponse
	require.NoError(t, json.Unmarshal(resp.Body, &read))
	assert.Equal(t, []byte("data"), read.Data)

	_, err = srv.handleMessage(ctx, communication.Message{From: "c", Type: ps.MsgWrite, Payload: ps.WriteRequest{FD: 4, Data: []byte("xy")}})
	require.NoError(t, err)
	assert.Equal(t, []byte("xy"), files.written)

	resp, err = srv.handleMessage(ctx, communication.Message{From: "c", Type: ps.MsgOpenFiles})
	require.NoError(t, err)
	var open2 []ps.OpenFile
	require.NoError(t, json.Unmarshal(resp.Body, &open2))
	assert.Equal(t, []ps.OpenFile{{FD: 3, Name: "a", Inode: 1, Mode: "RW", Pages: 1}}, open2)

	resp, err = srv.handleMessage(ctx, communication.Message{From: "c", Type: ps.MsgOpenCount})
	require.NoError(t, err)
	var count ps.CountResponse
	require.NoError(t, json.Unmarshal(resp.Body, &count))
	assert.Equal(t, 5, count.Count)
}

func TestHandleMessage_BadRequests(t *testing.T) {
	srv := newTestServer(&fakeFileService{})
	ctx := context.Background()

	resp, err := srv.handleMessage(ctx, communication.Message{From: "c", Type: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeBadRequest, resp.Code)

	resp, err = srv.handleMessage(ctx, communication.Message{From: "c", Type: ps.MsgOpen, Payload: ps.DeleteRequest{Name: "a"}})
	require.NoError(t, err)
	assert.Equal(t, communication.CodeBadRequest, resp.Code)
}
