package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogManager is the contract the buffer pool relies on for the
// write-ahead-logging discipline: a page must not be written to disk until
// the log record covering its last modification has itself reached disk.
// Recovery (replay, checkpointing, truncation) is out of scope; this
// interface only covers what the eviction path needs.
type LogManager interface {
	AppendRecord(pageID PageID, data []byte) (lsn uint64, err error)
	FlushTo(lsn uint64) error
	LastFlushedLSN() uint64
}

// recordHeaderSize is [8-byte LSN][4-byte PageID][4-byte DataLen]. Each
// record's payload (pageID identifies the page it describes a change to;
// data is an opaque blob this module never interprets) is written inline
// by AppendRecord rather than built up in an intermediate struct.
const recordHeaderSize = 16

// WAL is an append-only, file-backed LogManager.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	nextLSN  uint64
	flushed  uint64
}

// NewWAL opens (or creates) the log file at path, resuming LSN numbering
// from its current length.
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open WAL file: %w", err)
	}
	pos, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: seek WAL file: %w", err)
	}
	return &WAL{file: file, nextLSN: uint64(pos)}, nil
}

// AppendRecord writes one log record and returns the LSN it was assigned.
// The record is not guaranteed durable until FlushTo(lsn) returns.
func (w *WAL) AppendRecord(pageID PageID, data []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextLSN++
	lsn := w.nextLSN

	buf := make([]byte, recordHeaderSize+len(data))
	binary.LittleEndian.PutUint64(buf[0:8], lsn)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(pageID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(data)))
	copy(buf[recordHeaderSize:], data)

	if _, err := w.file.Write(buf); err != nil {
		return 0, fmt.Errorf("storage: append WAL record: %w", err)
	}
	return lsn, nil
}

// FlushTo ensures every record up to and including lsn is durable. Since
// this implementation writes records synchronously in append order, any
// fsync makes every record written so far durable; FlushTo simply forgets
// about ordering finer than "everything written so far".
func (w *WAL) FlushTo(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if lsn <= w.flushed {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("storage: flush WAL: %w", err)
	}
	if lsn > w.flushed {
		w.flushed = lsn
	}
	return nil
}

// LastFlushedLSN returns the highest LSN known durable.
func (w *WAL) LastFlushedLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}

// Close syncs and closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}
