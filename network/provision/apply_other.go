// Copyright 2023 The Outline Authors
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

//go:build !linux

package provision

import (
	"errors"
	"fmt"
	"runtime"
)

// Apply is only implemented on Linux.
func Apply(p Plan) (undo func() error, err error) {
	return nil, fmt.Errorf("provisioning on %s: %w", runtime.GOOS, errors.ErrUnsupported)
}
