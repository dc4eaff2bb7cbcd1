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

/*
The network/lwip2transport package terminates the TCP connections captured by the gateway in user space. It uses a
[modified lwIP go library], which is based on the original [lwIP library] (A Lightweight TCP/IP stack). The device is
singleton, so only one instance can be created per process.

The [SegmentHandler] connects the device to a frame dispatcher: it unwraps captured Ethernet frames into the stack and
wraps the stack's replies back into frames for the adapter.

	t2s, err := lwip2transport.ConfigureDevice(streamDialer)
	if err != nil {
		// handle error
	}
	segments, err := lwip2transport.NewSegmentHandler(t2s, gatewayMAC)
	if err != nil {
		// handle error
	}
	go segments.Run(ctx)
	// pass segments to dispatch.New

[modified lwIP go library]: https://github.com/eycorsican/go-tun2socks
[lwIP library]: https://savannah.nongnu.org/projects/lwip/
*/
package lwip2transport
