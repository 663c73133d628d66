package localdisc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AnishMulay/simplefs/internal/log_service"
	"go.uber.org/multierr"
)

// LocalDiscLogService appends one line per event to <dir>/<node>.log. With a size cap set the
// file is rolled over to <node>.log.1 once a write would cross it; one generation is kept.
type LocalDiscLogService struct {
	path     string
	nodeID   string
	mu       sync.Mutex
	file     *os.File
	size     int64
	maxBytes int64
	minLevel int
}

func NewLocalDiscLogService(logDir string, nodeID string, minLogLevel ...string) (*LocalDiscLogService, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	service := &LocalDiscLogService{
		path:     filepath.Join(logDir, nodeID+".log"),
		nodeID:   nodeID,
		minLevel: log_service.DebugLevelValue,
	}
	if err := service.open(); err != nil {
		return nil, err
	}

	if len(minLogLevel) > 0 && minLogLevel[0] != "" {
		service.SetMinLogLevel(minLogLevel[0])
	}
	return service, nil
}

func (ls *LocalDiscLogService) open() error {
	file, err := os.OpenFile(ls.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	ls.file = file
	ls.size = info.Size()
	return nil
}

func (ls *LocalDiscLogService) SetMinLogLevel(level string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.minLevel = log_service.GetLevelValue(strings.ToUpper(strings.TrimSpace(level)))
}

// SetMaxBytes caps the live file. Zero or less disables rotation.
func (ls *LocalDiscLogService) SetMaxBytes(n int64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.maxBytes = n
}

// Path returns the file the service appends to.
func (ls *LocalDiscLogService) Path() string {
	return ls.path
}

func (ls *LocalDiscLogService) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.file.Close()
}

// rotate must be called with mu held. The live file is reopened even when the rename fails.
func (ls *LocalDiscLogService) rotate() error {
	return multierr.Combine(
		ls.file.Close(),
		os.Rename(ls.path, ls.path+".1"),
		ls.open(),
	)
}

// formatLog renders metadata keys in sorted order so lines are stable across runs.
func formatLog(level string, event log_service.LogEvent) string {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var line strings.Builder
	fmt.Fprintf(&line, "%s [%s] %s: %s ", ts.Format(time.RFC3339), event.NodeID, level, event.Message)
	for _, k := range keys {
		fmt.Fprintf(&line, "%s=%v ", k, event.Metadata[k])
	}
	return line.String()
}

func (ls *LocalDiscLogService) log(level string, event log_service.LogEvent) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if log_service.GetLevelValue(level) < ls.minLevel {
		return
	}

	event.NodeID = ls.nodeID
	line := formatLog(level, event) + "\n"

	if ls.maxBytes > 0 && ls.size > 0 && ls.size+int64(len(line)) > ls.maxBytes {
		if err := ls.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation failed for %s: %v\n", ls.path, err)
		}
	}

	n, err := ls.file.WriteString(line)
	ls.size += int64(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log write failed for %s: %v\n", ls.path, err)
	}
}

func (ls *LocalDiscLogService) Debug(event log_service.LogEvent) {
	ls.log(log_service.DebugLevel, event)
}

func (ls *LocalDiscLogService) Info(event log_service.LogEvent) {
	ls.log(log_service.InfoLevel, event)
}

func (ls *LocalDiscLogService) Warn(event log_service.LogEvent) {
	ls.log(log_service.WarnLevel, event)
}

func (ls *LocalDiscLogService) Error(event log_service.LogEvent) {
	ls.log(log_service.ErrorLevel, event)
}

var _ log_service.LogService = (*LocalDiscLogService)(nil)
