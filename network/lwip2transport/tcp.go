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
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Jigsaw-Code/outline-gateway/transport"
	lwip "github.com/eycorsican/go-tun2socks/core"
)

// halfCloseLinger is how long a stream keeps waiting for the target after the local side stopped sending. Datagram
// tunnels carry no FIN, so without it the return direction would never end.
const halfCloseLinger = 30 * time.Second

// Compilation guard against interface implementation
var _ lwip.TCPConnHandler = (*tcpHandler)(nil)

type tcpHandler struct {
	dialer transport.StreamDialer
}

// newTCPHandler returns a lwIP connection handler that opens a stream to each target with dialer.
func newTCPHandler(dialer transport.StreamDialer) *tcpHandler {
	return &tcpHandler{dialer}
}

func (h *tcpHandler) Handle(conn net.Conn, target *net.TCPAddr) error {
	proxyConn, err := h.dialer.DialStream(context.Background(), target.String())
	if err != nil {
		slog.Debug("Failed to open stream", "target", target, "error", err)
		return err
	}
	go func() {
		up, down, err := relay(conn.(lwip.TCPConn), proxyConn, halfCloseLinger)
		slog.Debug("Stream finished", "target", target, "sent", up, "received", down, "error", err)
		proxyConn.Close()
	}()
	return nil
}

// copyOneWay copies from rightConn to leftConn until either EOF is reached on rightConn or an error occurs.
//
// rightConn's read end and leftConn's write end will be closed after copyOneWay returns.
func copyOneWay(leftConn, rightConn transport.StreamConn) (int64, error) {
	n, err := io.Copy(leftConn, rightConn)
	// Send FIN to indicate EOF
	leftConn.CloseWrite()
	// Release reader resources
	rightConn.CloseRead()
	return n, err
}

// relay copies between left and right bidirectionally. Returns number of bytes copied from left to right, from right
// to left, and any error occurred. Half-closed connections are allowed: once left is done writing, right has linger
// to deliver its remaining data.
func relay(leftConn, rightConn transport.StreamConn, linger time.Duration) (int64, int64, error) {
	type res struct {
		N   int64
		Err error
	}
	ch := make(chan res)

	go func() {
		n, err := copyOneWay(rightConn, leftConn)
		rightConn.SetReadDeadline(time.Now().Add(linger))
		ch <- res{n, err}
	}()

	n, err := copyOneWay(leftConn, rightConn)
	rs := <-ch

	if err == nil {
		err = rs.Err
	}
	return rs.N, n, err
}
