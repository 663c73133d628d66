package server

import "time"

// Message Type Constants
const (
	MsgOpen      = "open"
	MsgCreate    = "create"
	MsgDelete    = "delete"
	MsgClose     = "close"
	MsgExit      = "exit"
	MsgList      = "list"
	MsgStats     = "stats"
	MsgRead      = "read"
	MsgWrite     = "write"
	MsgSave      = "save"
	MsgOpenFiles = "open_files"
	MsgOpenCount = "open_count"
	MsgPing      = "ping"
)

// --- Payload Structs ---
// Requests carry no process id: the server binds each client (Message.From) to one process.

type OpenRequest struct {
	Name  string `json:"name"`
	Write bool   `json:"write"`
}

type OpenResponse struct {
	FD int `json:"fd"`
}

type CreateRequest struct {
	Name  string `json:"name"`
	Pages uint32 `json:"pages"`
}

type DeleteRequest struct {
	Name string `json:"name"`
}

type CloseRequest struct {
	FD int `json:"fd"`
}

type ExitRequest struct{}

type ListRequest struct{}

type DirEntry struct {
	Inode       uint32    `json:"inode"`
	Name        string    `json:"name"`
	Size        uint32    `json:"size"`
	ModTime     time.Time `json:"mtime"`
	FileType    uint8     `json:"type"`
	Permissions string    `json:"permissions"`
}

type StatsRequest struct{}

type StatsResponse struct {
	VolumeID    string `json:"volumeId"`
	Name        string `json:"name"`
	BlockSize   uint32 `json:"blockSize"`
	TotalBlocks uint32 `json:"totalBlocks"`
	UsedBlocks  uint32 `json:"usedBlocks"`
	FreeBlocks  uint32 `json:"freeBlocks"`
	TotalBytes  uint64 `json:"totalBytes"`
	UsedBytes   uint64 `json:"usedBytes"`
	FreeBytes   uint64 `json:"freeBytes"`
	TotalInodes uint32 `json:"totalInodes"`
	FreeInodes  uint32 `json:"freeInodes"`
	NextBlock   uint32 `json:"nextBlock"`
	NextInode   uint32 `json:"nextInode"`
	OpenFiles   int    `json:"openFiles"`
}

type ReadRequest struct {
	FD int `json:"fd"`
}

type ReadResponse struct {
	Data []byte `json:"data"`
}

type WriteRequest struct {
	FD     int    `json:"fd"`
	Offset uint32 `json:"offset"`
	Data   []byte `json:"data"`
}

type SaveRequest struct {
	FD int `json:"fd"`
}

type OpenFilesRequest struct{}

type OpenFile struct {
	FD    int    `json:"fd"`
	Name  string `json:"name"`
	Inode uint32 `json:"inode"`
	Mode  string `json:"mode"`
	Pages uint32 `json:"pages"`
}

type OpenCountRequest struct{}

type CountResponse struct {
	Count int `json:"count"`
}
