package storage

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Histogram tracks latency distribution with percentile support
type Histogram struct {
	samples []float64 // Latencies in microseconds
	mu sync.RWMutex
	maxSize int // Maximum samples to retain
	sorted bool // Track if samples are sorted
}

// NewHistogram creates a new histogram with a max sample size
func NewHistogram(maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 10000 // Default: keep last 10k samples
	}
	return &Histogram{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
		sorted: true,
	}
}

// Record adds a latency sample (in microseconds)
func (h *Histogram) Record(latencyUs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// If at capacity, remove oldest sample (FIFO)
	if len(h.samples) >= h.maxSize {
		// Shift left (removes oldest)
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}

	h.samples = append(h.samples, latencyUs)
	h.sorted = false // Adding new sample invalidates sort order
}

// Percentile calculates the given percentile (0-100)
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return 0
	}

	// Sort if needed (lazy sorting)
	if !h.sorted {
		h.mu.RUnlock()
		h.mu.Lock()
		if !h.sorted { // Double-check after acquiring write lock
			sort.Float64s(h.samples)
			h.sorted = true
		}
		h.mu.Unlock()
		h.mu.RLock()
	}

	// Calculate index
	rank := (p / 100.0) * float64(len(h.samples)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return h.samples[lower]
	}

	// Linear interpolation between lower and upper
	weight := rank - float64(lower)
	return h.samples[lower]*(1-weight) + h.samples[upper]*weight
}

// Mean calculates the average latency
func (h *Histogram) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range h.samples {
		sum += v
	}
	return sum / float64(len(h.samples))
}

// Min returns the minimum latency
func (h *Histogram) Min() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return 0
	}

	min := h.samples[0]
	for _, v := range h.samples {
		if v < min {
			min = v
		}
	}
	return min
}

// Max returns the maximum latency
func (h *Histogram) Max() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return 0
	}

	max := h.samples[0]
	for _, v := range h.samples {
		if v > max {
			max = v
		}
	}
	return max
}

// Count returns the number of samples
func (h *Histogram) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

// Reset clears all samples
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
	h.sorted = true
}

// Snapshot returns current percentile statistics
type HistogramSnapshot struct {
	Count int
	Min float64
	Max float64
	Mean float64
	P50 float64 // Median
	P95 float64
	P99 float64
	P999 float64
}

// Snapshot captures current histogram statistics
func (h *Histogram) Snapshot() HistogramSnapshot {
	return HistogramSnapshot{
		Count: h.Count(),
		Min: h.Min(),
		Max: h.Max(),
		Mean: h.Mean(),
		P50: h.Percentile(50),
		P95: h.Percentile(95),
		P99: h.Percentile(99),
		P999: h.Percentile(99.9),
	}
}

// Metrics tracks storage engine performance metrics
type Metrics struct {
	// Buffer Pool Metrics
	cacheHits        atomic.Uint64
	cacheMisses      atomic.Uint64
	pageEvictions    atomic.Uint64
	dirtyPageFlushes atomic.Uint64

	// Latency Histograms (microseconds)
	pageFetchLatency *Histogram // FetchPage latency
	pageFlushLatency *Histogram // FlushPage latency

	// Disk Compression Metrics
	compressionMu sync.Mutex
	compression   PageCompressionStats

	// Timing Metrics
	startTime time.Time
	mu        sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:        time.Now(),
		pageFetchLatency: NewHistogram(10000),
		pageFlushLatency: NewHistogram(10000),
	}
}

// Buffer Pool Metrics

func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

func (m *Metrics) RecordPageEviction() {
	m.pageEvictions.Add(1)
}

func (m *Metrics) RecordDirtyPageFlush() {
	m.dirtyPageFlushes.Add(1)
}

// RecordPageCompression folds one CompressPage outcome into the running
// compression stats, win or lose. cp must not be nil. A codec built
// with nil Metrics never calls this.
func (m *Metrics) RecordPageCompression(cp *CompressedPage) {
	m.compressionMu.Lock()
	defer m.compressionMu.Unlock()
	m.compression.AddCompression(cp)
}

// GetCompressionStats returns a snapshot of the accumulated compression
// statistics.
func (m *Metrics) GetCompressionStats() PageCompressionStats {
	m.compressionMu.Lock()
	defer m.compressionMu.Unlock()
	return m.compression
}

// Latency Recording Methods

// RecordPageFetchLatency records the latency of a page fetch operation
func (m *Metrics) RecordPageFetchLatency(duration time.Duration) {
	m.pageFetchLatency.Record(float64(duration.Microseconds()))
}

// RecordPageFlushLatency records the latency of a page flush operation
func (m *Metrics) RecordPageFlushLatency(duration time.Duration) {
	m.pageFlushLatency.Record(float64(duration.Microseconds()))
}

// Getters

func (m *Metrics) GetCacheHits() uint64 {
	return m.cacheHits.Load()
}

func (m *Metrics) GetCacheMisses() uint64 {
	return m.cacheMisses.Load()
}

func (m *Metrics) GetCacheHitRate() float64 {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

func (m *Metrics) GetPageEvictions() uint64 {
	return m.pageEvictions.Load()
}

func (m *Metrics) GetDirtyPageFlushes() uint64 {
	return m.dirtyPageFlushes.Load()
}

func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// Histogram Getters

// GetPageFetchLatency returns snapshot of page fetch latency distribution
func (m *Metrics) GetPageFetchLatency() HistogramSnapshot {
	return m.pageFetchLatency.Snapshot()
}

// GetPageFlushLatency returns snapshot of page flush latency distribution
func (m *Metrics) GetPageFlushLatency() HistogramSnapshot {
	return m.pageFlushLatency.Snapshot()
}

// LogMetrics logs all metrics using structured logging
func (m *Metrics) LogMetrics(logger *slog.Logger) {
	pageFetch := m.GetPageFetchLatency()
	pageFlush := m.GetPageFlushLatency()
	compression := m.GetCompressionStats()

	logger.Info("Storage Engine Metrics",
		slog.Group("buffer_pool",
			slog.Uint64("cache_hits", m.GetCacheHits()),
			slog.Uint64("cache_misses", m.GetCacheMisses()),
			slog.Float64("cache_hit_rate", m.GetCacheHitRate()),
			slog.Uint64("page_evictions", m.GetPageEvictions()),
			slog.Uint64("dirty_page_flushes", m.GetDirtyPageFlushes()),
		),
		slog.Group("compression",
			slog.Uint64("total_pages", compression.TotalPages),
			slog.Uint64("compressed_pages", compression.CompressedPages),
			slog.Float64("ratio", compression.GetCompressionRatio()),
			slog.Uint64("bytes_saved", compression.GetSpaceSavings()),
		),
		slog.Group("latency_us",
			slog.Group("page_fetch",
				slog.Int("count", pageFetch.Count),
				slog.Float64("mean", pageFetch.Mean),
				slog.Float64("p50", pageFetch.P50),
				slog.Float64("p95", pageFetch.P95),
				slog.Float64("p99", pageFetch.P99),
			),
			slog.Group("page_flush",
				slog.Int("count", pageFlush.Count),
				slog.Float64("mean", pageFlush.Mean),
				slog.Float64("p95", pageFlush.P95),
				slog.Float64("p99", pageFlush.P99),
			),
		),
		slog.Duration("uptime", m.GetUptime()),
	)
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.pageEvictions.Store(0)
	m.dirtyPageFlushes.Store(0)

	m.pageFetchLatency.Reset()
	m.pageFlushLatency.Reset()

	m.compressionMu.Lock()
	m.compression = PageCompressionStats{}
	m.compressionMu.Unlock()

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}
