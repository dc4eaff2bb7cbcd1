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

package slicepool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	pool := MakePool(10)
	require.Equal(t, 10, pool.BufferSize())

	slice := pool.LazySlice()
	buf := slice.Acquire()
	require.Len(t, buf, 10)
	slice.Release()

	// Acquire after Release is allowed.
	buf = slice.Acquire()
	require.Len(t, buf, 10)
	slice.Release()
}

func TestDoubleAcquirePanics(t *testing.T) {
	pool := MakePool(4)
	slice := pool.LazySlice()
	slice.Acquire()
	defer slice.Release()
	require.Panics(t, func() { slice.Acquire() })
}

func TestReleaseEmpty(t *testing.T) {
	pool := MakePool(4)
	slice := pool.LazySlice()
	require.NotPanics(t, slice.Release)
}
