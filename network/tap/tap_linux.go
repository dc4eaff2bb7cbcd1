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

package tap

import (
	"errors"
	"fmt"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

// Open creates (or attaches to) the TAP adapter called name and reads its metadata. The adapter is neither addressed
// nor brought up; that is left to the provisioning step.
func Open(name string) (d *Device, err error) {
	if len(name) == 0 {
		return nil, errors.New("name is required for TAP device")
	}
	iface, err := water.New(water.Config{
		DeviceType: water.TAP,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name:    name,
			Persist: false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create TAP device: %w", err)
	}
	defer func() {
		if err != nil {
			iface.Close()
		}
	}()

	link, err := netlink.LinkByName(iface.Name())
	if err != nil {
		return nil, fmt.Errorf("newly created TAP device '%s' not found: %w", iface.Name(), err)
	}
	attrs := link.Attrs()
	info := DeviceInfo{
		Name:         attrs.Name,
		Index:        attrs.Index,
		HardwareAddr: attrs.HardwareAddr,
		MTU:          attrs.MTU,
	}
	if info.MTU <= 0 {
		info.MTU = 1500
	}
	return newDevice(iface, info), nil
}
