package fleet

import (
	"encoding/json"
	"strings"
)

type RideStatus string

const (
	RideNew       RideStatus = "new"
	RideConfirmed RideStatus = "confirmed"
	RideOnway     RideStatus = "onway"
	RideArrived   RideStatus = "arrived"
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

// ParseRideStatus maps dashboard labels onto the canonical ride status.
// Legacy labels ("New Request", "Scheduled", "In Progress") are folded in;
// anything unknown is kept lower-cased so it never matches a rule by accident.
func ParseRideStatus(s string) RideStatus {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "new", "new request", "scheduled", "pending":
		return RideNew
	case "confirmed":
		return RideConfirmed
	case "onway", "on way", "on_way", "in progress", "en_route":
		return RideOnway
	case "arrived":
		return RideArrived
	case "completed", "complete":
		return RideCompleted
	case "cancelled", "canceled":
		return RideCancelled
	}
	return RideStatus(key)
}

func (s *RideStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseRideStatus(raw)
	return nil
}

// Upcoming reports statuses that are neither completed nor cancelled.
func (s RideStatus) Upcoming() bool {
	switch s {
	case RideNew, RideConfirmed, RideOnway, RideArrived:
		return true
	}
	return false
}

// Active reports statuses where a driver is committed to the ride.
func (s RideStatus) Active() bool {
	switch s {
	case RideConfirmed, RideOnway, RideArrived:
		return true
	}
	return false
}

type DriverStatus string

const (
	DriverActive    DriverStatus = "Active"
	DriverSuspended DriverStatus = "Suspended"
	DriverOnLeave   DriverStatus = "On Leave"
)

func ParseDriverStatus(s string) DriverStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return DriverActive
	case "suspended":
		return DriverSuspended
	case "on leave", "on_leave", "onleave", "leave":
		return DriverOnLeave
	}
	return DriverStatus(strings.TrimSpace(s))
}

func (s *DriverStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseDriverStatus(raw)
	return nil
}

type VehicleStatus string

const (
	VehicleActive      VehicleStatus = "Active"
	VehicleInactive    VehicleStatus = "Inactive"
	VehicleMaintenance VehicleStatus = "Maintenance"
)

func ParseVehicleStatus(s string) VehicleStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return VehicleActive
	case "inactive":
		return VehicleInactive
	case "maintenance", "in maintenance":
		return VehicleMaintenance
	}
	return VehicleStatus(strings.TrimSpace(s))
}

func (s *VehicleStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseVehicleStatus(raw)
	return nil
}

type ComponentStatus string

const (
	ComponentGood       ComponentStatus = "Good"
	ComponentNeedsCheck ComponentStatus = "Needs Check"
	ComponentCritical   ComponentStatus = "Critical"
)

func ParseComponentStatus(s string) ComponentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "good":
		return ComponentGood
	case "needs check", "needs_check", "check":
		return ComponentNeedsCheck
	case "critical":
		return ComponentCritical
	}
	return ComponentStatus(strings.TrimSpace(s))
}

func (s *ComponentStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseComponentStatus(raw)
	return nil
}
