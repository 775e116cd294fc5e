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
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKey(t *testing.T) {
	a := Key("png", 3, "variogram")
	assert.Equal(t, a, Key("png", 3, "variogram"))
	assert.NotEqual(t, a, Key("png", 4, "variogram"), "generation must change the key")
	assert.NotEqual(t, a, Key("png", 3, "goodfit"))
	assert.NotEqual(t, a, Key("pdf", 3, "variogram"))
	assert.True(t, bytes.HasPrefix(a, []byte("artifact/png/3/")))
}

func TestStore_SetGet(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	key := Key("pdf", 1, "creation")

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	payload := bytes.Repeat([]byte("%PDF-1.4 stream "), 256)
	require.NoError(t, s.Set(ctx, key, payload))

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestStore_CancelledContext(t *testing.T) {
	s := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Set(ctx, Key("png", 1), []byte("x")))
	_, _, err := s.Get(ctx, Key("png", 1))
	assert.Error(t, err)
}

func TestStore_GetOrRender(t *testing.T) {
	s := openInMemory(t)
	var hits, misses int
	s.Observe = func(kind string, hit bool) {
		assert.Equal(t, "png", kind)
		if hit {
			hits++
		} else {
			misses++
		}
	}
	ctx := context.Background()
	key := Key("png", 7, "distribution")
	renders := 0
	render := func(context.Context) ([]byte, error) {
		renders++
		return []byte{0x89, 'P', 'N', 'G'}, nil
	}

	first, err := s.GetOrRender(ctx, "png", key, render)
	require.NoError(t, err)
	second, err := s.GetOrRender(ctx, "png", key, render)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, renders)
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestStore_GetOrRender_ErrorNotCached(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	key := Key("pdf", 2, "confirmation")
	boom := errors.New("typesetting failed")

	_, err := s.GetOrRender(ctx, "pdf", key, func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	got, err := s.GetOrRender(ctx, "pdf", key, func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestStore_GetOrRender_Dedupes(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()
	key := Key("pdf", 9, "verification")

	var renders atomic.Int32
	release := make(chan struct{})
	render := func(context.Context) ([]byte, error) {
		renders.Add(1)
		<-release
		return []byte("pdf"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.GetOrRender(ctx, "pdf", key, render)
			assert.NoError(t, err)
			assert.Equal(t, []byte("pdf"), got)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, renders.Load(), int32(8))
	assert.GreaterOrEqual(t, renders.Load(), int32(1))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_OnDisk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	runner, err := s.GCRunner()
	require.NoError(t, err)
	require.NotNil(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, runner.Run(ctx))
}

func TestGCRunner_Validation(t *testing.T) {
	s := openInMemory(t)

	_, err := NewGCRunner(nil, time.Second, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(s.db, 0, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(s.db, time.Second, 1.5, nil)
	assert.Error(t, err)

	runner, err := s.GCRunner()
	require.NoError(t, err)
	assert.Nil(t, runner, "in-memory stores have no GC runner")
}

func TestCompress_RoundTrip(t *testing.T) {
	in := bytes.Repeat([]byte("sar10g,u10g\n"), 100)
	out, err := decompress(compress(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decompress([]byte("not zstd"))
	assert.Error(t, err)
}
