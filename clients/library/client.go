package fslib

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/AnishMulay/simplefs/internal/communication"
	ps "github.com/AnishMulay/simplefs/internal/server"
	"github.com/google/uuid"
)

func NewClient(serverAddr string, comm communication.Communicator) *Client {
	return &Client{
		ServerAddr: serverAddr,
		ID:         "fslib-" + uuid.NewString(),
		Comm:       comm,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", "", ps.MsgPing, nil, nil)
}

// Open returns a server-side descriptor. write requests the file's write lock.
func (c *Client) Open(ctx context.Context, name string, write bool) (int, error) {
	var out ps.OpenResponse
	if err := c.call(ctx, "open", name, ps.MsgOpen, ps.OpenRequest{Name: name, Write: write}, &out); err != nil {
		return -1, err
	}
	return out.FD, nil
}

func (c *Client) Create(ctx context.Context, name string, pages uint32) error {
	return c.call(ctx, "create", name, ps.MsgCreate, ps.CreateRequest{Name: name, Pages: pages}, nil)
}

func (c *Client) Delete(ctx context.Context, name string) error {
	return c.call(ctx, "delete", name, ps.MsgDelete, ps.DeleteRequest{Name: name}, nil)
}

func (c *Client) Close(ctx context.Context, fd int) error {
	return c.call(ctx, "close", fmt.Sprintf("fd %d", fd), ps.MsgClose, ps.CloseRequest{FD: fd}, nil)
}

// Exit closes every descriptor the client holds on the server.
func (c *Client) Exit(ctx context.Context) error {
	return c.call(ctx, "exit", "", ps.MsgExit, ps.ExitRequest{}, nil)
}

func (c *Client) List(ctx context.Context) ([]ps.DirEntry, error) {
	var out []ps.DirEntry
	err := c.call(ctx, "list", "", ps.MsgList, ps.ListRequest{}, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (ps.StatsResponse, error) {
	var out ps.StatsResponse
	err := c.call(ctx, "stats", "", ps.MsgStats, ps.StatsRequest{}, &out)
	return out, err
}

func (c *Client) Read(ctx context.Context, fd int) ([]byte, error) {
	var out ps.ReadResponse
	err := c.call(ctx, "read", fmt.Sprintf("fd %d", fd), ps.MsgRead, ps.ReadRequest{FD: fd}, &out)
	return out.Data, err
}

func (c *Client) Write(ctx context.Context, fd int, offset uint32, data []byte) error {
	return c.call(ctx, "write", fmt.Sprintf("fd %d", fd), ps.MsgWrite, ps.WriteRequest{FD: fd, Offset: offset, Data: data}, nil)
}

func (c *Client) Save(ctx context.Context, fd int) error {
	return c.call(ctx, "save", fmt.Sprintf("fd %d", fd), ps.MsgSave, ps.SaveRequest{FD: fd}, nil)
}

func (c *Client) OpenFiles(ctx context.Context) ([]ps.OpenFile, error) {
	var out []ps.OpenFile
	err := c.call(ctx, "open files", "", ps.MsgOpenFiles, ps.OpenFilesRequest{}, &out)
	return out, err
}

func (c *Client) OpenCount(ctx context.Context) (int, error) {
	var out ps.CountResponse
	err := c.call(ctx, "open count", "", ps.MsgOpenCount, ps.OpenCountRequest{}, &out)
	return out.Count, err
}

// ReadFile opens name read-only, returns its contents and closes it.
func (c *Client) ReadFile(ctx context.Context, name string) ([]byte, error) {
	fd, err := c.Open(ctx, name, false)
	if err != nil {
		return nil, err
	}
	data, err := c.Read(ctx, fd)
	if closeErr := c.Close(ctx, fd); err == nil {
		err = closeErr
	}
	return data, err
}

// WriteFile writes data at the start of an existing file and saves it.
func (c *Client) WriteFile(ctx context.Context, name string, data []byte) error {
	fd, err := c.Open(ctx, name, true)
	if err != nil {
		return err
	}
	err = c.Write(ctx, fd, 0, data)
	if err == nil {
		err = c.Save(ctx, fd)
	}
	if closeErr := c.Close(ctx, fd); err == nil {
		err = closeErr
	}
	return err
}

func (c *Client) call(ctx context.Context, op, target, msgType string, payload any, out any) error {
	resp, err := c.send(ctx, msgType, payload)
	if err != nil {
		return fmt.Errorf("%s %q failed: %w", op, target, err)
	}
	if resp.Code != communication.CodeOK {
		return responseError(op, target, resp)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, msgType string, payload any) (*communication.Response, error) {
	return c.Comm.Send(ctx, c.ServerAddr, communication.Message{
		From:    c.ID,
		Type:    msgType,
		Payload: payload,
	})
}

func responseError(op string, target string, resp *communication.Response) error {
	if resp == nil {
		return fmt.Errorf("%s %q failed: empty response", op, target)
	}

	body := strings.TrimSpace(string(resp.Body))
	if body == "" {
		body = string(resp.Code)
	}

	switch resp.Code {
	case communication.CodeNotFound:
		return fmt.Errorf("%s %q: %w: %s", op, target, os.ErrNotExist, body)
	case communication.CodeAlreadyExists:
		return fmt.Errorf("%s %q: %w", op, target, os.ErrExist)
	case communication.CodeLocked:
		return fmt.Errorf("%s %q: %w: %s", op, target, ErrLocked, body)
	case communication.CodeUnavailable:
		return fmt.Errorf("%s %q: %w: %s", op, target, ErrUnavailable, body)
	case communication.CodeBadRequest:
		return fmt.Errorf("%s %q: %w: %s", op, target, ErrBadRequest, body)
	default:
		return fmt.Errorf("%s %q failed (%s): %s", op, target, resp.Code, body)
	}
}
