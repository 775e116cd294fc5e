// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"
)

// RenderFunc produces an artifact on a cache miss.
type RenderFunc func(ctx context.Context) ([]byte, error)

// Store is a BadgerDB-backed artifact cache.
//
// # Description
//
// Values are zstd-compressed. Concurrent misses for the same key share a
// single render through singleflight. Render errors are never cached.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	gcCfg  Config
	flight singleflight.Group

	// Observe, when set, is told about every lookup.
	Observe func(kind string, hit bool)
}

// Open opens the store described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, ttl: cfg.TTL, gcCfg: cfg}, nil
}

// GCRunner returns a runner for the store's value log, or nil when GC is
// disabled or the store is in memory.
func (s *Store) GCRunner() (*GCRunner, error) {
	if s.gcCfg.InMemory || s.gcCfg.GCInterval <= 0 {
		return nil, nil
	}
	return NewGCRunner(s.db, s.gcCfg.GCInterval, s.gcCfg.GCDiscardRatio, s.gcCfg.Logger)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key builds the cache key of an artifact: its kind, the lifecycle
// generation it was rendered from, and a hash of any extra parameters.
func Key(kind string, generation uint64, parts ...string) []byte {
	h := xxhash.Sum64String(strings.Join(parts, "\x00"))
	return []byte("artifact/" + kind + "/" + strconv.FormatUint(generation, 10) + "/" + strconv.FormatUint(h, 16))
}

// Get returns the artifact at key. ok is false on a miss.
func (s *Store) Get(ctx context.Context, key []byte) (data []byte, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context cancelled: %w", err)
	}
	var raw []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read artifact %s: %w", key, err)
	}
	data, err = decompress(raw)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores data at key with the configured TTL.
func (s *Store) Set(ctx context.Context, key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	e := badger.NewEntry(key, compress(data))
	if s.ttl > 0 {
		e = e.WithTTL(s.ttl)
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) }); err != nil {
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	return nil
}

// GetOrRender returns the cached artifact at key or renders, stores and
// returns it.
//
// # Inputs
//
//   - kind: artifact kind for observation ("png", "pdf").
//   - key: from Key.
//   - render: called at most once per key among concurrent callers.
//
// # Outputs
//
//   - []byte: the artifact.
//   - error: the render error, unchanged. Cache read and write failures
//     are not returned; the artifact is rendered instead.
func (s *Store) GetOrRender(ctx context.Context, kind string, key []byte, render RenderFunc) ([]byte, error) {
	if data, ok, err := s.Get(ctx, key); err == nil && ok {
		s.observe(kind, true)
		return data, nil
	}
	s.observe(kind, false)

	v, err, _ := s.flight.Do(string(key), func() (any, error) {
		data, err := render(ctx)
		if err != nil {
			return nil, err
		}
		_ = s.Set(ctx, key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Store) observe(kind string, hit bool) {
	if s.Observe != nil {
		s.Observe(kind, hit)
	}
}
