// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loaders

import (
	"os"
	"path/filepath"
	"strings"
)

// VisibleDevicesEnv restricts the accelerators visible to the process, as a comma-separated list.
const VisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"

// nvidiaDevicesGlob matches the device files of the NVIDIA GPUs.
var nvidiaDevicesGlob = "/dev/nvidia[0-9]*"

// DetectDevices returns the number of accelerator devices available to the process.
//
// If $CUDA_VISIBLE_DEVICES is set, it counts its entries up to the first invalid (negative) one.
// Otherwise it counts the NVIDIA device files.
func DetectDevices() int {
	if visible, found := os.LookupEnv(VisibleDevicesEnv); found {
		count := 0
		for _, entry := range strings.Split(visible, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" || strings.HasPrefix(entry, "-") {
				break
			}
			count++
		}
		return count
	}
	matches, err := filepath.Glob(nvidiaDevicesGlob)
	if err != nil {
		return 0
	}
	return len(matches)
}
