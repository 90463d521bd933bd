// Copyright 2019 The SpO2 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checker

import "github.com/spo2server/spo2"

// WindowSize is the fixed capacity of the probe window. It never changes
// for the life of a checker.
const WindowSize = 10

// ProbeWindow remembers the last WindowSize probe outcomes for one URL,
// oldest evicted first. The bad ratio divides by the fixed capacity rather
// than the current occupancy, which keeps a freshly registered URL from
// alerting on its first few samples: one bad probe out of two observed is
// 0.1, not 0.5.
type ProbeWindow struct {
	samples [WindowSize]spo2.Status
	next    int
	count   int
}

// Push records an observation, evicting the oldest once the window is full.
func (w *ProbeWindow) Push(s spo2.Status) {
	w.samples[w.next] = s
	w.next = (w.next + 1) % WindowSize
	if w.count < WindowSize {
		w.count++
	}
}

// Bads counts the non-Healthy observations currently held.
func (w *ProbeWindow) Bads() int {
	bads := 0
	for i := 0; i < w.count; i++ {
		if !w.samples[i].IsGood() {
			bads++
		}
	}
	return bads
}

// BadRatio returns Bads divided by the fixed capacity.
func (w *ProbeWindow) BadRatio() float64 {
	return float64(w.Bads()) / WindowSize
}

// Len returns how many observations the window currently holds.
func (w *ProbeWindow) Len() int { return w.count }
