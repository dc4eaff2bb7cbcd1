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
The network package defines interfaces and provides utilities for link layer and network layer functionalities of the
gateway. You can use the [FrameDevice] interface to read and write Ethernet frames from a virtual adapter, and the
[IPDevice] interface to exchange IP packets with a user-space network stack.

The sub-packages classify captured frames ([network/frame]), answer ARP requests for the gateway address
([network/arp]), pump frames from an adapter to their handlers ([network/dispatch]), terminate TCP in user space
([network/lwip2transport]), and open and provision the adapter itself ([network/tap], [network/provision]).
*/
package network
