package fleet

// Index holds lookups derived from one snapshot so rule and context passes stay linear.
type Index struct {
	drivers       map[string]Driver
	clients       map[string]Client
	completedBy   map[string]int
	activeBy      map[string]int
	upcomingBy    map[string]int
	ridesByClient map[string]int
}

func NewIndex(s Snapshot) *Index {
	idx := &Index{
		drivers:       make(map[string]Driver, len(s.Drivers)),
		clients:       make(map[string]Client, len(s.Clients)),
		completedBy:   make(map[string]int),
		activeBy:      make(map[string]int),
		upcomingBy:    make(map[string]int),
		ridesByClient: make(map[string]int),
	}
	for _, d := range s.Drivers {
		if _, seen := idx.drivers[d.ID]; !seen {
			idx.drivers[d.ID] = d
		}
	}
	for _, c := range s.Clients {
		if _, seen := idx.clients[c.ID]; !seen {
			idx.clients[c.ID] = c
		}
	}
	for _, r := range s.Rides {
		if r.ClientID != "" {
			idx.ridesByClient[r.ClientID]++
		}
		if r.DriverID == "" {
			continue
		}
		if r.Status == RideCompleted {
			idx.completedBy[r.DriverID]++
		}
		if r.Status.Active() {
			idx.activeBy[r.DriverID]++
		}
		if r.Status.Upcoming() {
			idx.upcomingBy[r.DriverID]++
		}
	}
	return idx
}

func (i *Index) Driver(id string) (Driver, bool) {
	if id == "" {
		return Driver{}, false
	}
	d, ok := i.drivers[id]
	return d, ok
}

func (i *Index) Client(id string) (Client, bool) {
	if id == "" {
		return Client{}, false
	}
	c, ok := i.clients[id]
	return c, ok
}

func (i *Index) CompletedRides(driverID string) int { return i.completedBy[driverID] }

func (i *Index) ActiveRides(driverID string) int { return i.activeBy[driverID] }

// HasUpcoming reports whether the driver holds a ride that is not yet completed or cancelled.
func (i *Index) HasUpcoming(driverID string) bool { return i.upcomingBy[driverID] > 0 }

func (i *Index) ClientRides(clientID string) int { return i.ridesByClient[clientID] }
