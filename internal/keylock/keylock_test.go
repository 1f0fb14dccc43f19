//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New(0)

	const iterations = 1000
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				unlock := l.Lock("app:user:session")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 8*iterations, counter)
}

func TestLockIndependentKeysDoNotBlock(t *testing.T) {
	// Two keys on distinct stripes must be holdable at the same time.
	l := New(64)
	keyA := "app:user:a"
	keyB := keyA
	for i := 0; l.index(keyB) == l.index(keyA); i++ {
		keyB = "app:user:b" + string(rune('0'+i))
	}

	unlockA := l.Lock(keyA)
	done := make(chan struct{})
	go func() {
		unlock := l.Lock(keyB)
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}

func TestIndexIsStable(t *testing.T) {
	l := New(16)
	require.Equal(t, l.index("reviewapp:alice:s1"), l.index("reviewapp:alice:s1"))
	require.Less(t, l.index("reviewapp:alice:s1"), 16)
	require.GreaterOrEqual(t, l.index("reviewapp:alice:s1"), 0)
}
