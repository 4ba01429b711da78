package fleet

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Versioned is a snapshot stamped with a monotonically increasing version.
type Versioned struct {
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	Snapshot  Snapshot  `json:"snapshot"`
}

// Feed keeps the latest snapshot pushed by the CRUD layer. Readers always get
// a whole snapshot of one version, never a mix of two.
type Feed struct {
	mu      sync.RWMutex
	clock   clockz.Clock
	current Versioned
	subs    []func(Versioned)
}

func NewFeed(clock clockz.Clock) *Feed {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Feed{clock: clock, current: Versioned{UpdatedAt: clock.Now()}}
}

// Subscribe registers fn to run after every Replace, in registration order.
func (f *Feed) Subscribe(fn func(Versioned)) {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
}

// Replace installs a copy of s as the next version.
func (f *Feed) Replace(s Snapshot) Versioned {
	f.mu.Lock()
	next := Versioned{
		Version:   f.current.Version + 1,
		UpdatedAt: f.clock.Now(),
		Snapshot:  s.Clone(),
	}
	f.current = next
	subs := append([]func(Versioned){}, f.subs...)
	f.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next
}

func (f *Feed) Current() Versioned {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Clone copies the record slices so later edits by the caller do not leak in.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Rides:       append([]Ride(nil), s.Rides...),
		Drivers:     make([]Driver, len(s.Drivers)),
		Vehicles:    make([]Vehicle, len(s.Vehicles)),
		Clients:     append([]Client(nil), s.Clients...),
		Maintenance: make([]MaintenanceRecord, len(s.Maintenance)),
	}
	for i, d := range s.Drivers {
		d.Rating = clonePtr(d.Rating)
		out.Drivers[i] = d
	}
	for i, v := range s.Vehicles {
		v.Mileage = clonePtr(v.Mileage)
		v.Seats = clonePtr(v.Seats)
		out.Vehicles[i] = v
	}
	for i, m := range s.Maintenance {
		m.NextServiceKM = clonePtr(m.NextServiceKM)
		out.Maintenance[i] = m
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// LoadFile decodes a snapshot JSON document.
func LoadFile(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return s, nil
}
