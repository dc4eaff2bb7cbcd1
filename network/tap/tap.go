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

// Package tap opens the TAP adapter that the gateway captures frames from.
package tap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/Jigsaw-Code/outline-gateway/network"
)

// ethernetHeaderLen is the size of an untagged Ethernet header.
const ethernetHeaderLen = 14

// DeviceInfo is the metadata of an adapter, read once when it is opened.
type DeviceInfo struct {
	Name         string
	Index        int
	HardwareAddr net.HardwareAddr
	MTU          int
}

// Device is a [network.FrameDevice] backed by a TAP adapter.
type Device struct {
	rwc  io.ReadWriteCloser
	info DeviceInfo
}

var _ network.FrameDevice = (*Device)(nil)

func newDevice(rwc io.ReadWriteCloser, info DeviceInfo) *Device {
	return &Device{rwc: rwc, info: info}
}

// Info returns the adapter metadata.
func (d *Device) Info() DeviceInfo {
	return d.info
}

// MTU implements [network.FrameDevice].
func (d *Device) MTU() int {
	return d.info.MTU
}

// Read implements [network.FrameDevice]. It reads one frame.
func (d *Device) Read(p []byte) (int, error) {
	n, err := d.rwc.Read(p)
	if err != nil {
		return n, d.wrapErr(err)
	}
	return n, nil
}

// Write implements [network.FrameDevice]. It writes one frame.
func (d *Device) Write(p []byte) (int, error) {
	if len(p) > ethernetHeaderLen+d.info.MTU {
		return 0, network.ErrMsgSize
	}
	n, err := d.rwc.Write(p)
	if err != nil {
		return n, d.wrapErr(err)
	}
	return n, nil
}

// Close implements [network.FrameDevice].
func (d *Device) Close() error {
	return d.rwc.Close()
}

func (d *Device) wrapErr(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: %w", network.ErrClosed, err)
	}
	return fmt.Errorf("adapter %s: %w", d.info.Name, err)
}
