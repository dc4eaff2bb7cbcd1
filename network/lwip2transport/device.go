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

package lwip2transport

import (
	"errors"
	"io"
	"sync"

	"github.com/Jigsaw-Code/outline-gateway/network"
	"github.com/Jigsaw-Code/outline-gateway/transport"
	lwip "github.com/eycorsican/go-tun2socks/core"
)

// stackMTU is the largest IP packet the stack reads or writes.
const stackMTU = 1500

var _ network.IPDevice = (*stackDevice)(nil)

// stackDevice exposes the process-wide lwIP stack as an [network.IPDevice]. Packets emitted by the stack are handed
// over one at a time from its output callback to Read.
type stackDevice struct {
	stack lwip.LWIPStack
	// closeStack releases the C stack exactly once.
	closeStack func() error

	done chan struct{}
	once sync.Once

	out     chan []byte
	outDone chan int
}

// lwIP keeps global state, so only one stack may exist at a time.
var (
	current   *stackDevice
	currentMu sync.Mutex
)

// ConfigureDevice starts the lwIP stack and returns it as a [network.IPDevice]. Every TCP connection found in the
// packets written to the device is opened with sd and relayed; UDP is refused. Packets the stack sends back are
// returned by Read.
//
// There is one stack per process. Calling ConfigureDevice again closes the previous device first.
func ConfigureDevice(sd transport.StreamDialer) (network.IPDevice, error) {
	if sd == nil {
		return nil, errors.New("argument sd must not be nil")
	}

	currentMu.Lock()
	defer currentMu.Unlock()
	if current != nil {
		current.Close()
	}
	stack := lwip.NewLWIPStack()
	d := &stackDevice{
		stack:      stack,
		closeStack: sync.OnceValue(stack.Close),
		done:       make(chan struct{}),
		out:        make(chan []byte),
		outDone:    make(chan int),
	}
	lwip.RegisterTCPConnHandler(newTCPHandler(sd))
	lwip.RegisterUDPConnHandler(&udpHandler{})
	lwip.RegisterOutputFn(d.output)
	current = d
	return d, nil
}

// Close stops the stack. Pending and future reads return [io.EOF]. Calling Close again has no effect.
func (d *stackDevice) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		err = d.closeStack()
	})
	return err
}

func (d *stackDevice) MTU() int {
	return stackMTU
}

// output is the stack's output callback. It runs on the goroutines of the TCP connections and blocks until Read has
// copied b.
func (d *stackDevice) output(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	select {
	case d.out <- b:
	case <-d.done:
		return 0, network.ErrClosed
	}
	select {
	case n := <-d.outDone:
		return n, nil
	case <-d.done:
		return 0, network.ErrClosed
	}
}

// Read blocks until the stack emits a packet and copies it to p, truncating it if p is too small.
func (d *stackDevice) Read(p []byte) (int, error) {
	select {
	case b := <-d.out:
		n := copy(p, b)
		select {
		case d.outDone <- n:
		case <-d.done:
		}
		return n, nil
	case <-d.done:
		return 0, io.EOF
	}
}

// Write feeds one IP packet to the stack.
func (d *stackDevice) Write(b []byte) (int, error) {
	select {
	case <-d.done:
		return 0, network.ErrClosed
	default:
	}
	n, err := d.stack.Write(b)
	// The stack reports closure with an untyped error.
	if err != nil && err.Error() == "stack closed" {
		return n, network.ErrClosed
	}
	return n, err
}
