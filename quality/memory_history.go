package quality

import (
	"context"
	"sort"
	"sync"
)

type historyKey struct {
	companyID int
	field     string
}

// MemoryHistory implements HistoryPort using an in-memory map.
// Thread-safe with RWMutex.
type MemoryHistory struct {
	series map[historyKey]map[int]float64
	mu     sync.RWMutex
}

// NewMemoryHistory creates an empty in-memory history
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		series: make(map[historyKey]map[int]float64),
	}
}

// Put stores value for a company metric period, replacing any previous value
func (h *MemoryHistory) Put(companyID int, field string, period int, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := historyKey{companyID, field}
	if h.series[key] == nil {
		h.series[key] = make(map[int]float64)
	}
	h.series[key][period] = value
}

// Delete removes a stored period value
func (h *MemoryHistory) Delete(companyID int, field string, period int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.series[historyKey{companyID, field}], period)
}

// Get returns the value stored for period
func (h *MemoryHistory) Get(_ context.Context, companyID int, field string, period int) (float64, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	v, ok := h.series[historyKey{companyID, field}][period]
	return v, ok, nil
}

// Series returns all stored periods ordered by period
func (h *MemoryHistory) Series(_ context.Context, companyID int, field string) ([]HistoryPoint, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	periods := h.series[historyKey{companyID, field}]
	points := make([]HistoryPoint, 0, len(periods))
	for p, v := range periods {
		points = append(points, HistoryPoint{Period: p, Value: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Period < points[j].Period })
	return points, nil
}
