package utils

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects counters about trace reconstruction
type MetricsCollector struct {
	mu sync.RWMutex

	stepsProcessed   int64
	cacheHits        int64
	cacheMisses      int64
	framesPushed     int64
	framesPopped     int64
	instantCalls     int64
	exceptionalHalts int64
	decodeFailures   int64

	avgStepTime time.Duration

	startTime time.Time
}

// MetricsSnapshot is a point-in-time copy of the collected counters
type MetricsSnapshot struct {
	StepsProcessed   int64         `json:"stepsProcessed"`
	CacheHits        int64         `json:"cacheHits"`
	CacheMisses      int64         `json:"cacheMisses"`
	CacheHitRate     float64       `json:"cacheHitRate"`
	FramesPushed     int64         `json:"framesPushed"`
	FramesPopped     int64         `json:"framesPopped"`
	InstantCalls     int64         `json:"instantCalls"`
	ExceptionalHalts int64         `json:"exceptionalHalts"`
	DecodeFailures   int64         `json:"decodeFailures"`
	AvgStepTime      time.Duration `json:"avgStepTime"`
	Uptime           time.Duration `json:"uptime"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// RecordStep records one processed step and the time spent on it
func (mc *MetricsCollector) RecordStep(duration time.Duration) {
	atomic.AddInt64(&mc.stepsProcessed, 1)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	// exponential moving average, alpha=0.1
	mc.avgStepTime = time.Duration(float64(mc.avgStepTime)*0.9 + float64(duration)*0.1)
}

// RecordCacheLookup records a memoization cache hit or miss
func (mc *MetricsCollector) RecordCacheLookup(hit bool) {
	if hit {
		atomic.AddInt64(&mc.cacheHits, 1)
	} else {
		atomic.AddInt64(&mc.cacheMisses, 1)
	}
}

func (mc *MetricsCollector) RecordFramePushed() { atomic.AddInt64(&mc.framesPushed, 1) }

func (mc *MetricsCollector) RecordFramesPopped(n int) {
	atomic.AddInt64(&mc.framesPopped, int64(n))
}

func (mc *MetricsCollector) RecordInstantCall() { atomic.AddInt64(&mc.instantCalls, 1) }

func (mc *MetricsCollector) RecordExceptionalHalt() { atomic.AddInt64(&mc.exceptionalHalts, 1) }

func (mc *MetricsCollector) RecordDecodeFailure() { atomic.AddInt64(&mc.decodeFailures, 1) }

// Snapshot returns the current metrics
func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	mc.mu.RLock()
	avg := mc.avgStepTime
	mc.mu.RUnlock()

	hits := atomic.LoadInt64(&mc.cacheHits)
	misses := atomic.LoadInt64(&mc.cacheMisses)
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return MetricsSnapshot{
		StepsProcessed:   atomic.LoadInt64(&mc.stepsProcessed),
		CacheHits:        hits,
		CacheMisses:      misses,
		CacheHitRate:     rate,
		FramesPushed:     atomic.LoadInt64(&mc.framesPushed),
		FramesPopped:     atomic.LoadInt64(&mc.framesPopped),
		InstantCalls:     atomic.LoadInt64(&mc.instantCalls),
		ExceptionalHalts: atomic.LoadInt64(&mc.exceptionalHalts),
		DecodeFailures:   atomic.LoadInt64(&mc.decodeFailures),
		AvgStepTime:      avg,
		Uptime:           time.Since(mc.startTime),
	}
}

// String renders a one-line summary
func (s MetricsSnapshot) String() string {
	return fmt.Sprintf("steps=%d frames=+%d/-%d instant=%d exceptional=%d cache=%.1f%%",
		s.StepsProcessed, s.FramesPushed, s.FramesPopped, s.InstantCalls,
		s.ExceptionalHalts, s.CacheHitRate*100)
}
