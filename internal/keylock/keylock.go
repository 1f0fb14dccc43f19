//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Package keylock provides string-keyed mutual exclusion over a fixed set
// of lock stripes. Keys are hashed onto stripes, so two distinct keys may
// share a stripe; that only over-serializes, never under-serializes.
package keylock

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// defaultStripes is sized for tens of concurrent sessions; collisions past
// that merely serialize unrelated keys.
const defaultStripes = 64

// KeyLock serializes callers that present the same key.
type KeyLock struct {
	stripes []sync.Mutex
}

// New creates a KeyLock with n stripes. Non-positive n falls back to the
// default stripe count.
func New(n int) *KeyLock {
	if n <= 0 {
		n = defaultStripes
	}
	return &KeyLock{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns the matching unlock
// function. Callers must invoke the returned function exactly once,
// typically via defer.
func (l *KeyLock) Lock(key string) func() {
	m := &l.stripes[l.index(key)]
	m.Lock()
	return m.Unlock
}

func (l *KeyLock) index(key string) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(len(l.stripes)))
}
