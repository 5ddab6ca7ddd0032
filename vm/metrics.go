//go:build linux && amd64

package vm

import (
	"sync/atomic"
	"time"
)

// Counters for keep lifecycle operations
var (
	regionsAdded    uint64
	regionsReleased uint64
	bytesMapped     uint64
	threadsStarted  uint64
	threadsClosed   uint64
	enterOperations uint64

	// Timing metrics (nanoseconds)
	totalEnterTime uint64

	// Error counters
	regionFailures uint64
	threadFailures uint64
)

// Metrics provides access to keep lifecycle metrics
type Metrics struct {
	RegionsAdded    uint64 `json:"regions_added"`
	RegionsReleased uint64 `json:"regions_released"`
	BytesMapped     uint64 `json:"bytes_mapped"`
	ThreadsStarted  uint64 `json:"threads_started"`
	ThreadsClosed   uint64 `json:"threads_closed"`
	EnterOperations uint64 `json:"enter_operations"`
	AvgEnterTimeNs  uint64 `json:"avg_enter_time_ns"`
	RegionFailures  uint64 `json:"region_failures"`
	ThreadFailures  uint64 `json:"thread_failures"`
}

// GetMetrics returns current keep lifecycle metrics
func GetMetrics() Metrics {
	enters := atomic.LoadUint64(&enterOperations)

	var avgEnter uint64
	if enters > 0 {
		avgEnter = atomic.LoadUint64(&totalEnterTime) / enters
	}

	return Metrics{
		RegionsAdded:    atomic.LoadUint64(&regionsAdded),
		RegionsReleased: atomic.LoadUint64(&regionsReleased),
		BytesMapped:     atomic.LoadUint64(&bytesMapped),
		ThreadsStarted:  atomic.LoadUint64(&threadsStarted),
		ThreadsClosed:   atomic.LoadUint64(&threadsClosed),
		EnterOperations: enters,
		AvgEnterTimeNs:  avgEnter,
		RegionFailures:  atomic.LoadUint64(&regionFailures),
		ThreadFailures:  atomic.LoadUint64(&threadFailures),
	}
}

// ResetMetrics clears all keep lifecycle metrics
func ResetMetrics() {
	atomic.StoreUint64(&regionsAdded, 0)
	atomic.StoreUint64(&regionsReleased, 0)
	atomic.StoreUint64(&bytesMapped, 0)
	atomic.StoreUint64(&threadsStarted, 0)
	atomic.StoreUint64(&threadsClosed, 0)
	atomic.StoreUint64(&enterOperations, 0)
	atomic.StoreUint64(&totalEnterTime, 0)
	atomic.StoreUint64(&regionFailures, 0)
	atomic.StoreUint64(&threadFailures, 0)
}

// Internal metric recording functions
func recordRegionAdd(bytes uint64) {
	atomic.AddUint64(&regionsAdded, 1)
	atomic.AddUint64(&bytesMapped, bytes)
}

func recordRegionRelease() {
	atomic.AddUint64(&regionsReleased, 1)
}

func recordRegionFailure() {
	atomic.AddUint64(&regionFailures, 1)
}

func recordThreadStart() {
	atomic.AddUint64(&threadsStarted, 1)
}

func recordThreadClose() {
	atomic.AddUint64(&threadsClosed, 1)
}

func recordThreadFailure() {
	atomic.AddUint64(&threadFailures, 1)
}

func recordEnter(duration time.Duration) {
	atomic.AddUint64(&enterOperations, 1)
	atomic.AddUint64(&totalEnterTime, uint64(duration.Nanoseconds()))
}
