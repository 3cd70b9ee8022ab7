// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// IndexDirName is the BadgerDB directory inside the platform root.
const IndexDirName = "index"

const platformKeyPrefix = "platform/"

// IndexConfig configures an Index.
type IndexConfig struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// ReadOnly opens an existing database without creating or modifying
	// anything. Resolution always uses read-only mode.
	ReadOnly bool

	// InMemory keeps everything in memory. Tests only.
	InMemory bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// Entry is the index record for one installed platform.
type Entry struct {
	// Path is the install directory relative to the platform root.
	Path string `json:"path"`

	// Length is the platform length the install satisfies.
	Length uint64 `json:"length"`

	// Fork is the fork number of the install.
	Fork uint64 `json:"fork"`

	// Version is the runtime version string from the bootstrap plan.
	Version string `json:"version,omitempty"`

	InstalledAt time.Time `json:"installed_at"`
}

// Index is the BadgerDB-backed platform index.
//
// # Thread Safety
//
// Safe for concurrent use; badger serializes transactions.
type Index struct {
	db *badger.DB
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenIndex opens the platform index.
//
// # Description
//
// A read-only open of a directory that does not exist returns an error
// wrapping os.ErrNotExist without creating it. A read-write open creates
// the directory. Sizes stay at badger's defaults: badger rejects a
// memtable too small for its value threshold.
//
// # Inputs
//
//   - cfg: see IndexConfig
//
// # Outputs
//
//   - *Index: open index; Close when done
//   - error: open failure
func OpenIndex(cfg IndexConfig) (*Index, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("index path is required")
	}

	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.ReadOnly:
		if _, err := os.Stat(filepath.Join(cfg.Path, "MANIFEST")); err != nil {
			return nil, fmt.Errorf("open index %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(true)
	default:
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create index directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}

	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Index{db: db}, nil
}

// Lookup returns the entry for key or an error wrapping ErrNotFound.
func (i *Index) Lookup(key [KeySize]byte) (Entry, error) {
	var entry Entry
	err := i.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, fmt.Errorf("%w: no index entry", ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: read index entry: %v", ErrNotFound, err)
	}
	return entry, nil
}

// Put records entry for key, replacing any previous record.
func (i *Index) Put(key [KeySize]byte, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode index entry: %w", err)
	}
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey(key), data)
	})
}

// Close closes the database.
func (i *Index) Close() error {
	return i.db.Close()
}

func indexKey(key [KeySize]byte) []byte {
	return []byte(platformKeyPrefix + fmt.Sprintf("%x", key[:]))
}

// PutIndexEntry opens the index under root read-write, records entry
// and closes it again. Bootstrap calls this while holding the platform
// lock.
func PutIndexEntry(root string, key [KeySize]byte, entry Entry, logger *slog.Logger) error {
	idx, err := OpenIndex(IndexConfig{Path: filepath.Join(root, IndexDirName), Logger: logger})
	if err != nil {
		return err
	}
	if err := idx.Put(key, entry); err != nil {
		idx.Close()
		return fmt.Errorf("write index entry: %w", err)
	}
	return idx.Close()
}
