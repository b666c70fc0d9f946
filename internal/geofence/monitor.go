// Package geofence keeps the set of registered regions consistent with the
// set of active location-enabled tasks and handles enter transitions.
package geofence

import (
	"math"
	"sync"
)

// Monitor is the device-side geofencing contract. Registering an id that
// already exists replaces its region; removing an unknown id is a no-op.
type Monitor interface {
	RegisterRegion(id string, lat, lng, radiusMeters float64) error
	RemoveRegion(id string) error
	RemoveAllRegions() error
}

type region struct {
	lat, lng, radius float64
	inside           bool
}

// MemoryMonitor is an in-process Monitor fed by position updates. It emits
// the ids of regions whose boundary the position crossed inward, which is the
// same enter-transition event an OS geofencing API delivers.
type MemoryMonitor struct {
	mu      sync.Mutex
	regions map[string]*region
	events  chan []string
}

func NewMemoryMonitor() *MemoryMonitor {
	return &MemoryMonitor{
		regions: make(map[string]*region),
		events:  make(chan []string, 16),
	}
}

// Transitions delivers batches of region ids entered by position updates.
func (m *MemoryMonitor) Transitions() <-chan []string {
	return m.events
}

func (m *MemoryMonitor) RegisterRegion(id string, lat, lng, radiusMeters float64) error {
	m.mu.Lock()
	m.regions[id] = &region{lat: lat, lng: lng, radius: radiusMeters}
	m.mu.Unlock()
	return nil
}

func (m *MemoryMonitor) RemoveRegion(id string) error {
	m.mu.Lock()
	delete(m.regions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryMonitor) RemoveAllRegions() error {
	m.mu.Lock()
	m.regions = make(map[string]*region)
	m.mu.Unlock()
	return nil
}

// RegionCount reports the number of registered regions.
func (m *MemoryMonitor) RegionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}

// HasRegion reports whether id is currently registered.
func (m *MemoryMonitor) HasRegion(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.regions[id]
	return ok
}

// UpdatePosition records the current position and emits an enter event for
// every region the position just moved into.
func (m *MemoryMonitor) UpdatePosition(lat, lng float64) {
	var entered []string
	m.mu.Lock()
	for id, r := range m.regions {
		in := haversineMeters(lat, lng, r.lat, r.lng) <= r.radius
		if in && !r.inside {
			entered = append(entered, id)
		}
		r.inside = in
	}
	m.mu.Unlock()

	if len(entered) > 0 {
		select {
		case m.events <- entered:
		default: // consumer lagging, drop rather than block the position feed
		}
	}
}

const earthRadiusMeters = 6371000

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
