package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type NodeConfig struct {
	ID         string `yaml:"id"`
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
}

type VolumeConfig struct {
	ImagePath   string `yaml:"image_path"`
	TotalBlocks uint32 `yaml:"total_blocks"`
	Name        string `yaml:"name"`
	LadderScan  bool   `yaml:"ladder_scan"`
}

type MemoryConfig struct {
	MaxPages int `yaml:"max_pages"`
}

type OpenFilesConfig struct {
	Capacity       int `yaml:"capacity"`
	MaxDescriptors int `yaml:"max_descriptors"`
}

type LogConfig struct {
	Backend string `yaml:"backend"`
	Level   string `yaml:"level"`
	Dir     string `yaml:"dir"`
	Format  string `yaml:"format"`
	// MaxSizeKB rolls the localdisc file over once it would grow past this size. 0 disables.
	MaxSizeKB int `yaml:"max_size_kb"`
}

type FuseConfig struct {
	MountPoint string `yaml:"mount_point"`
}

type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Volume    VolumeConfig    `yaml:"volume"`
	Memory    MemoryConfig    `yaml:"memory"`
	OpenFiles OpenFilesConfig `yaml:"open_files"`
	Log       LogConfig       `yaml:"log"`
	Fuse      FuseConfig      `yaml:"fuse"`
}

func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:         "simplefs-1",
			ListenAddr: "localhost:9090",
			DataDir:    "./data",
		},
		Volume: VolumeConfig{
			ImagePath:   "./data/simplefs.img",
			TotalBlocks: 2048,
			Name:        "simplefs",
		},
		Memory:    MemoryConfig{MaxPages: 1024},
		OpenFiles: OpenFilesConfig{Capacity: 64, MaxDescriptors: 16},
		Log: LogConfig{
			Backend:   "localdisc",
			Level:     "INFO",
			Dir:       "./data/logs",
			Format:    "json",
			MaxSizeKB: 10240,
		},
	}
}

// Load reads the YAML file at path, writing the defaults there first when it does not exist.
// SIMPLEFS_* environment variables are applied on top of the file.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		applyEnv(cfg)
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.Node.ID == "":
		return fmt.Errorf("%w: node.id is required", ErrInvalidConfig)
	case c.Volume.ImagePath == "":
		return fmt.Errorf("%w: volume.image_path is required", ErrInvalidConfig)
	case c.Volume.TotalBlocks < 64:
		return fmt.Errorf("%w: volume.total_blocks must be at least 64, got %d", ErrInvalidConfig, c.Volume.TotalBlocks)
	case c.OpenFiles.Capacity <= 3:
		return fmt.Errorf("%w: open_files.capacity must leave room beyond the stdio slots", ErrInvalidConfig)
	case c.OpenFiles.MaxDescriptors <= 3:
		return fmt.Errorf("%w: open_files.max_descriptors must be greater than 3", ErrInvalidConfig)
	case c.Memory.MaxPages <= 0:
		return fmt.Errorf("%w: memory.max_pages must be positive", ErrInvalidConfig)
	case c.Log.MaxSizeKB < 0:
		return fmt.Errorf("%w: log.max_size_kb must not be negative", ErrInvalidConfig)
	}

	switch c.Log.Backend {
	case "localdisc", "zap":
	default:
		return fmt.Errorf("%w: unknown log.backend %q", ErrInvalidConfig, c.Log.Backend)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Node.ID = getEnv("SIMPLEFS_NODE_ID", c.Node.ID)
	c.Node.ListenAddr = getEnv("SIMPLEFS_LISTEN_ADDR", c.Node.ListenAddr)
	c.Node.DataDir = getEnv("SIMPLEFS_DATA_DIR", c.Node.DataDir)
	c.Volume.ImagePath = getEnv("SIMPLEFS_IMAGE_PATH", c.Volume.ImagePath)
	c.Volume.TotalBlocks = uint32(getEnvInt("SIMPLEFS_TOTAL_BLOCKS", int(c.Volume.TotalBlocks)))
	c.Volume.LadderScan = getEnvBool("SIMPLEFS_LADDER_SCAN", c.Volume.LadderScan)
	c.Memory.MaxPages = getEnvInt("SIMPLEFS_MAX_PAGES", c.Memory.MaxPages)
	c.OpenFiles.Capacity = getEnvInt("SIMPLEFS_OPEN_FILES", c.OpenFiles.Capacity)
	c.Log.Backend = getEnv("SIMPLEFS_LOG_BACKEND", c.Log.Backend)
	c.Log.Level = getEnv("SIMPLEFS_LOG_LEVEL", c.Log.Level)
	c.Log.Dir = getEnv("SIMPLEFS_LOG_DIR", c.Log.Dir)
	c.Log.MaxSizeKB = getEnvInt("SIMPLEFS_LOG_MAX_KB", c.Log.MaxSizeKB)
	c.Fuse.MountPoint = getEnv("SIMPLEFS_MOUNT_POINT", c.Fuse.MountPoint)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
