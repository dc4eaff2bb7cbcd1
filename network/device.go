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

package network

import "io"

// FrameDevice is a network device that reads and writes link-layer (Ethernet) frames, such as a TAP adapter.
//
// Read blocks until one whole frame has been received and copies it into p. If p is too small the excess bytes are
// discarded. Write sends exactly one frame and returns (0, [ErrMsgSize]) if it does not fit. Both return an error
// wrapping [ErrClosed] once the device is closed.
type FrameDevice interface {
	io.ReadWriteCloser

	// MTU returns the maximum size of the payload of a frame, excluding the link-layer header.
	MTU() int
}

// IPDevice is a generic network device that reads and writes IP packets. It extends the [io.ReadWriteCloser]
// interface.
//
// Some examples of IPDevices are a virtual network adapter or a user-space network stack.
type IPDevice interface {
	// Close closes this device. Any future Read will return io.EOF and Write will return ErrClosed.
	Close() error

	// Read reads an IP packet from this device into p, returning the number of bytes read. It blocks until a full IP
	// packet has been received. Note that an IP packet might be fragmented, and we will not reassemble it.
	//
	// If len(p) is smaller than the incoming IP packet, only len(p) bytes will be copied to p, the excess bytes are
	// discarded (this aligns with the socket recvfrom function), and nil error will be returned.
	Read(p []byte) (int, error)

	// Write writes an IP packet p to this device and returns the number of bytes written. Large IP packets must be
	// fragmented by the caller, and len(p) must not exceed the maximum buffer size returned by MTU.
	//
	// Write will return (0, ErrMsgSize) if len(p) > MTU(). This aligns with the socket sendto function.
	Write(b []byte) (int, error)

	// MTU returns the size of the Maximum Transmission Unit for this device, which is the maximum size of a single IP
	// packet that can be received/sent.
	MTU() int
}
