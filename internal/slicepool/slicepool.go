// Copyright 2023 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package slicepool is a memory pool for fixed-size byte slices. Buffers are
only taken from the pool when they are actually needed:

	lazySlice := pool.LazySlice()
	buf := lazySlice.Acquire()
	defer lazySlice.Release()
*/
package slicepool

import (
	"sync"
)

// Pool wraps a [sync.Pool] of byte slices of a fixed size.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// MakePool returns a Pool of slices with the specified size.
func MakePool(bufferSize int) Pool {
	return Pool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, bufferSize)
				return &b
			},
		},
		bufSize: bufferSize,
	}
}

// BufferSize is the length of every slice handed out by this pool.
func (p *Pool) BufferSize() int {
	return p.bufSize
}

// LazySlice returns an empty LazySlice tied to this Pool.
func (p *Pool) LazySlice() *LazySlice {
	return &LazySlice{pool: &p.pool}
}

// LazySlice holds 0 or 1 slices from a particular Pool.
type LazySlice struct {
	pool  *sync.Pool
	slice *[]byte
}

// Acquire this slice from the pool and return it.
// This function cannot be called again until after Release.
func (b *LazySlice) Acquire() []byte {
	if b.slice != nil {
		panic("buffer already acquired")
	}
	b.slice = b.pool.Get().(*[]byte)
	return *b.slice
}

// Release the buffer back to the pool, unless the box is empty.
// The caller must discard any references to the buffer.
func (b *LazySlice) Release() {
	if b.slice != nil {
		b.pool.Put(b.slice)
		b.slice = nil
	}
}
