package core

import (
	"sync"
	"sync/atomic"
)

const AVG_COUNT uint8 = 30

type MetricsState struct {
	FrameAVGCounter    uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64
}

// Counters are updated from worker goroutines, so they are atomics and live
// outside of the frame timing state which only the main loop touches.
type Counters struct {
	BLASBuilt            atomic.Uint64
	BLASCompacted        atomic.Uint64
	CompactionBytesSaved atomic.Uint64
	TLASBuilt            atomic.Uint64
	AssetsPrepared       atomic.Uint64
	AssetsPublished      atomic.Uint64
	ExtractionsSkipped   atomic.Uint64
	ResourcesDestroyed   atomic.Uint64
	FramesTraced         atomic.Uint64
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil
var counters Counters

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{
			MStimes: [AVG_COUNT]float64{0},
		}
	})
	return nil
}

func MetricsUpdate(frame_elapsed_time float64) {
	// Calculate frame ms average
	frame_ms := (frame_elapsed_time * 1000.0)
	metricsState.MStimes[metricsState.FrameAVGCounter] = frame_ms
	if metricsState.FrameAVGCounter == AVG_COUNT-1 {
		metricsState.MSavg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			metricsState.MSavg += metricsState.MStimes[i]
		}

		metricsState.MSavg /= float64(AVG_COUNT)
	}
	metricsState.FrameAVGCounter++
	metricsState.FrameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	metricsState.AccumulatedFrameMS += frame_ms
	if metricsState.AccumulatedFrameMS > 1000 {
		metricsState.FPS = float64(metricsState.Frames)
		metricsState.AccumulatedFrameMS -= 1000
		metricsState.Frames = 0
	}

	// Count all Frames.
	metricsState.Frames++
}

func MetricsFPS() float64 {
	return metricsState.FPS
}

func MetricsFrameTime() float64 {
	return metricsState.MSavg
}

// MetricsCounters exposes the process wide resource counters.
func MetricsCounters() *Counters {
	return &counters
}

// LogCounters writes a one line summary of the counters at info level.
func LogCounters() {
	LogInfo("blas built=%d compacted=%d saved=%dB tlas=%d prepared=%d published=%d skipped=%d destroyed=%d frames=%d",
		counters.BLASBuilt.Load(),
		counters.BLASCompacted.Load(),
		counters.CompactionBytesSaved.Load(),
		counters.TLASBuilt.Load(),
		counters.AssetsPrepared.Load(),
		counters.AssetsPublished.Load(),
		counters.ExtractionsSkipped.Load(),
		counters.ResourcesDestroyed.Load(),
		counters.FramesTraced.Load(),
	)
}
