package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	fslib "github.com/AnishMulay/simplefs/clients/library"
	"github.com/AnishMulay/simplefs/internal/communication"
	grpccomm "github.com/AnishMulay/simplefs/internal/communication/grpc"
	"github.com/AnishMulay/simplefs/internal/log_service"
	lslocal "github.com/AnishMulay/simplefs/internal/log_service/localdisc"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"
)

type ServerEntry struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

type MCPConfig struct {
	Servers       []ServerEntry `yaml:"servers"`
	DefaultServer string        `yaml:"default_server"`
	LogDir        string        `yaml:"log_dir"`
}

// ServerRegistry keeps one client per configured server, so descriptors opened through a tool
// stay owned by the same server-side process between calls.
type ServerRegistry struct {
	Servers       map[string]*fslib.Client
	DefaultServer string
	Communicator  communication.Communicator
	LogService    log_service.LogService
}

func LoadConfig(path string) (*MCPConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		defaultConfig := &MCPConfig{
			Servers:       []ServerEntry{{ID: "local", Address: "localhost:9090"}},
			DefaultServer: "local",
			LogDir:        "./logs",
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		data, err := yaml.Marshal(defaultConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return defaultConfig, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := MCPConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("no servers configured in %s", path)
	}
	if cfg.DefaultServer == "" {
		cfg.DefaultServer = cfg.Servers[0].ID
	}
	return &cfg, nil
}

func NewServerRegistry(cfg *MCPConfig, comm communication.Communicator, ls log_service.LogService) *ServerRegistry {
	registry := &ServerRegistry{
		Servers:       make(map[string]*fslib.Client, len(cfg.Servers)),
		DefaultServer: cfg.DefaultServer,
		Communicator:  comm,
		LogService:    ls,
	}
	for _, s := range cfg.Servers {
		registry.Servers[s.ID] = fslib.NewClient(s.Address, comm)
	}
	return registry
}

// clientFor resolves the optional "server" argument.
func (r *ServerRegistry) clientFor(request mcp.CallToolRequest) (*fslib.Client, error) {
	serverID := request.GetString("server", "")
	if serverID == "" {
		serverID = r.DefaultServer
	}
	client, ok := r.Servers[serverID]
	if !ok {
		return nil, fmt.Errorf("server %s not found", serverID)
	}
	return client, nil
}

type toolFunc func(ctx context.Context, client *fslib.Client, request mcp.CallToolRequest) (string, error)

func (r *ServerRegistry) handler(name string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		client, err := r.clientFor(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := fn(ctx, client, request)
		if err != nil {
			r.LogService.Warn(log_service.LogEvent{
				Message:  "Tool call failed",
				Metadata: map[string]any{"tool": name, "server": client.ServerAddr, "error": err.Error()},
			})
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

func serverOption() mcp.ToolOption {
	return mcp.WithString("server", mcp.Description("Server ID from the config; the default server when omitted"))
}

func addTools(s *server.MCPServer, registry *ServerRegistry) {
	s.AddTool(mcp.NewTool("list_servers",
		mcp.WithDescription("List all configured servers"),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids := make([]string, 0, len(registry.Servers))
		for id := range registry.Servers {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		var b strings.Builder
		b.WriteString("Available servers:\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "- %s: %s\n", id, registry.Servers[id].ServerAddr)
		}
		fmt.Fprintf(&b, "Default server: %s\n", registry.DefaultServer)
		return mcp.NewToolResultText(b.String()), nil
	})

	s.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List the files in the volume's root directory"),
		serverOption(),
	), registry.handler("list_files", handleListFiles))

	s.AddTool(mcp.NewTool("volume_stats",
		mcp.WithDescription("Show block and inode usage of the volume"),
		serverOption(),
	), registry.handler("volume_stats", func(ctx context.Context, client *fslib.Client, _ mcp.CallToolRequest) (string, error) {
		stats, err := client.Stats(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(stats)
	}))

	s.AddTool(mcp.NewTool("create_file",
		mcp.WithDescription("Create a zero-filled file"),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
		mcp.WithNumber("pages", mcp.Required(), mcp.Description("Size in 4096-byte pages")),
		serverOption(),
	), registry.handler("create_file", handleCreateFile))

	s.AddTool(mcp.NewTool("delete_file",
		mcp.WithDescription("Delete a file that nobody has open"),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
		serverOption(),
	), registry.handler("delete_file", func(ctx context.Context, client *fslib.Client, request mcp.CallToolRequest) (string, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return "", err
		}
		if err := client.Delete(ctx, name); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deleted %s", name), nil
	}))

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a file's contents as text"),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
		serverOption(),
	), registry.handler("read_file", func(ctx context.Context, client *fslib.Client, request mcp.CallToolRequest) (string, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return "", err
		}
		data, err := client.ReadFile(ctx, name)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\x00"), nil
	}))

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Write text at the start of an existing file and save it"),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text to write")),
		serverOption(),
	), registry.handler("write_file", handleWriteFile))

	s.AddTool(mcp.NewTool("open_files",
		mcp.WithDescription("Show open file statistics"),
		serverOption(),
	), registry.handler("open_files", func(ctx context.Context, client *fslib.Client, _ mcp.CallToolRequest) (string, error) {
		count, err := client.OpenCount(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d open file table entries (including stdin, stdout and stderr)", count), nil
	}))
}

func handleListFiles(ctx context.Context, client *fslib.Client, _ mcp.CallToolRequest) (string, error) {
	entries, err := client.List(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "The volume is empty", nil
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%d %s %d %s\n", e.Inode, e.Permissions, e.Size, e.Name)
	}
	return b.String(), nil
}

func handleCreateFile(ctx context.Context, client *fslib.Client, request mcp.CallToolRequest) (string, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return "", err
	}
	pages, err := request.RequireFloat("pages")
	if err != nil {
		return "", err
	}
	if pages < 0 || pages != float64(uint32(pages)) {
		return "", fmt.Errorf("pages must be a non-negative integer, got %v", pages)
	}
	if err := client.Create(ctx, name, uint32(pages)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created %s (%d pages)", name, uint32(pages)), nil
}

func handleWriteFile(ctx context.Context, client *fslib.Client, request mcp.CallToolRequest) (string, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return "", err
	}
	content, err := request.RequireString("content")
	if err != nil {
		return "", err
	}
	if err := client.WriteFile(ctx, name, []byte(content)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), name), nil
}

func toJSON(v any) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func main() {
	configPath := flag.String("config", "./data/mcp.yaml", "MCP config file, created with defaults if missing")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// stdout carries the protocol, so logs go to disk only
	ls, err := lslocal.NewLocalDiscLogService(cfg.LogDir, "mcp", "INFO")
	if err != nil {
		log.Fatalf("Failed to open log: %v", err)
	}
	defer ls.Close()

	comm := grpccomm.NewGRPCCommunicator("", ls)
	defer comm.Stop()

	s := server.NewMCPServer(
		"simplefs",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	addTools(s, NewServerRegistry(cfg, comm, ls))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
	}
}
