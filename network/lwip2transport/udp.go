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
	"log/slog"
	"net"

	lwip "github.com/eycorsican/go-tun2socks/core"
)

// errUDPNotSupported is returned to lwIP for every UDP datagram.
var errUDPNotSupported = errors.New("UDP is not carried by the gateway")

// Compilation guard against interface implementation
var _ lwip.UDPConnHandler = (*udpHandler)(nil)

// udpHandler refuses all UDP traffic. The frame dispatcher drops UDP before it reaches the stack, so this only
// catches datagrams written to the device directly.
type udpHandler struct{}

func (h *udpHandler) Connect(tunConn lwip.UDPConn, target *net.UDPAddr) error {
	slog.Debug("Refused UDP session", "local", tunConn.LocalAddr(), "target", target)
	return errUDPNotSupported
}

func (h *udpHandler) ReceiveTo(tunConn lwip.UDPConn, data []byte, destAddr *net.UDPAddr) error {
	return errUDPNotSupported
}
