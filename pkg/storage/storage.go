package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Config holds the settings needed to open an Engine.
type Config struct {
	DataDir        string
	BufferPoolSize int // frames to cache
	LRUK           int // LRU-K history depth
}

// DefaultConfig returns sensible defaults for a new data directory.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		BufferPoolSize: 1000,
		LRUK:           2,
	}
}

// Engine wires a FileDiskManager, a WAL, and a BufferPoolManager together
// for callers that just want "open a data directory, get a pool" without
// constructing the three collaborators by hand.
type Engine struct {
	mu     sync.Mutex
	disk   *FileDiskManager
	wal    *WAL
	pool   *BufferPoolManager
	isOpen bool
}

// Open creates the data directory if needed and opens its disk file, WAL,
// and buffer pool.
func Open(config *Config) (*Engine, error) {
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create data directory: %w", err)
	}

	disk, err := NewFileDiskManager(filepath.Join(config.DataDir, "data.db"))
	if err != nil {
		return nil, fmt.Errorf("storage: open disk manager: %w", err)
	}

	wal, err := NewWAL(filepath.Join(config.DataDir, "wal.log"))
	if err != nil {
		disk.Close()
		return nil, fmt.Errorf("storage: open WAL: %w", err)
	}

	lruK := config.LRUK
	if lruK <= 0 {
		lruK = 2
	}
	pool := NewBufferPoolManager(config.BufferPoolSize, disk, wal, lruK)

	return &Engine{disk: disk, wal: wal, pool: pool, isOpen: true}, nil
}

// Pool returns the engine's buffer pool manager.
func (e *Engine) Pool() *BufferPoolManager {
	return e.pool
}

// Disk returns the engine's disk manager.
func (e *Engine) Disk() *FileDiskManager {
	return e.disk
}

// Log returns the engine's log manager.
func (e *Engine) Log() *WAL {
	return e.wal
}

// Checkpoint flushes every dirty page and syncs the data file.
func (e *Engine) Checkpoint() error {
	if err := e.pool.FlushAllPages(); err != nil {
		return fmt.Errorf("storage: checkpoint flush: %w", err)
	}
	return e.disk.Sync()
}

// Close flushes all dirty pages and closes the WAL and disk file.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOpen {
		return nil
	}
	if err := e.pool.FlushAllPages(); err != nil {
		return fmt.Errorf("storage: flush on close: %w", err)
	}
	if err := e.wal.Close(); err != nil {
		return fmt.Errorf("storage: close WAL: %w", err)
	}
	if err := e.disk.Close(); err != nil {
		return fmt.Errorf("storage: close disk manager: %w", err)
	}
	e.isOpen = false
	return nil
}

// Stats reports combined buffer pool and disk manager counters.
func (e *Engine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"buffer_pool": e.pool.Stats(),
		"disk":        e.disk.Stats(),
	}
}
