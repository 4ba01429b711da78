// Package risk evaluates a fleet snapshot against fixed threshold rules and
// returns prioritized alerts. It never touches the network or the AI provider.
package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zoobzio/clockz"

	"fleetintel/internal/fleet"
)

type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
	Info     Severity = "info"
)

// Rank orders severities critical < warning < info.
func (s Severity) Rank() int {
	switch s {
	case Critical:
		return 0
	case Warning:
		return 1
	}
	return 2
}

type Category string

const (
	CategoryDriver      Category = "driver"
	CategoryVehicle     Category = "vehicle"
	CategoryDocument    Category = "document"
	CategoryMaintenance Category = "maintenance"
	CategoryDispatch    Category = "dispatch"
)

// Alert ids are unique per (entity, rule) so re-evaluating an unchanged snapshot
// yields the same list.
type Alert struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail"`
}

// Evaluate runs every rule over snap as seen at now and returns the alerts
// sorted by severity, keeping rule order within a severity.
func Evaluate(snap fleet.Snapshot, now time.Time) []Alert {
	idx := fleet.NewIndex(snap)
	var alerts []Alert
	alerts = suspendedDrivers(alerts, snap, idx)
	alerts = vehiclesInMaintenance(alerts, snap, idx)
	alerts = documentExpiry(alerts, snap, now)
	alerts = criticalComponents(alerts, snap)
	alerts = componentsNeedingCheck(alerts, snap)
	alerts = serviceOverdue(alerts, snap)
	alerts = unassignedRides(alerts, snap, now)

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Rank() < alerts[j].Severity.Rank()
	})
	return alerts
}

// Counts tallies alerts per severity.
func Counts(alerts []Alert) map[Severity]int {
	out := map[Severity]int{Critical: 0, Warning: 0, Info: 0}
	for _, a := range alerts {
		out[a.Severity]++
	}
	return out
}

// Evaluator evaluates snapshots against an injected clock.
type Evaluator struct {
	clock clockz.Clock
}

func NewEvaluator(clock clockz.Clock) *Evaluator {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Evaluator{clock: clock}
}

func (e *Evaluator) Evaluate(snap fleet.Snapshot) []Alert {
	return Evaluate(snap, e.clock.Now())
}

func suspendedDrivers(alerts []Alert, snap fleet.Snapshot, idx *fleet.Index) []Alert {
	for _, d := range snap.Drivers {
		if d.Status != fleet.DriverSuspended {
			continue
		}
		a := Alert{
			ID:       "suspended-" + d.ID,
			Severity: Warning,
			Category: CategoryDriver,
			Title:    fmt.Sprintf("%s suspended", nameOr(d.Name, d.ID)),
			Detail:   "Not available for dispatch",
		}
		if idx.HasUpcoming(d.ID) {
			a.Severity = Critical
			a.Detail = "Has upcoming rides — reassign immediately"
		}
		alerts = append(alerts, a)
	}
	return alerts
}

func vehiclesInMaintenance(alerts []Alert, snap fleet.Snapshot, idx *fleet.Index) []Alert {
	for _, v := range snap.Vehicles {
		if v.Status != fleet.VehicleMaintenance {
			continue
		}
		detail := nameOr(v.LicensePlate, "—")
		if d, ok := idx.Driver(v.AssignedDriverID); ok {
			detail += " · " + nameOr(d.Name, d.ID)
		}
		alerts = append(alerts, Alert{
			ID:       "maint-" + v.ID,
			Severity: Critical,
			Category: CategoryVehicle,
			Title:    fmt.Sprintf("%s in maintenance", vehicleName(v)),
			Detail:   detail,
		})
	}
	return alerts
}

func documentExpiry(alerts []Alert, snap fleet.Snapshot, now time.Time) []Alert {
	for _, v := range snap.Vehicles {
		plate := nameOr(v.LicensePlate, "—")
		switch fleet.ClassifyExpiry(v.InsuranceExpiry, now) {
		case fleet.ExpiryExpired:
			alerts = append(alerts, docAlert("ins-exp-"+v.ID, Critical, "Insurance EXPIRED", plate+" — expired "+v.InsuranceExpiry))
		case fleet.ExpiryWithin30:
			alerts = append(alerts, docAlert("ins-30-"+v.ID, Warning, "Insurance expiring <30 days", plate+" — expires "+v.InsuranceExpiry))
		case fleet.ExpiryWithin60:
			alerts = append(alerts, docAlert("ins-60-"+v.ID, Info, "Insurance expiring <60 days", plate+" — expires "+v.InsuranceExpiry))
		}
		// registration has no 60 day tier
		switch fleet.ClassifyExpiry(v.RegistrationExpiry, now) {
		case fleet.ExpiryExpired:
			alerts = append(alerts, docAlert("reg-exp-"+v.ID, Critical, "Registration EXPIRED", plate+" — expired "+v.RegistrationExpiry))
		case fleet.ExpiryWithin30:
			alerts = append(alerts, docAlert("reg-30-"+v.ID, Warning, "Registration expiring <30 days", plate+" — expires "+v.RegistrationExpiry))
		}
	}
	return alerts
}

func docAlert(id string, sev Severity, title, detail string) Alert {
	return Alert{ID: id, Severity: sev, Category: CategoryDocument, Title: title, Detail: detail}
}

func criticalComponents(alerts []Alert, snap fleet.Snapshot) []Alert {
	for _, m := range snap.Maintenance {
		crits := m.ComponentsWith(fleet.ComponentCritical)
		if len(crits) == 0 {
			continue
		}
		alerts = append(alerts, Alert{
			ID:       "crit-" + m.ID,
			Severity: Critical,
			Category: CategoryMaintenance,
			Title:    "Critical maintenance needed",
			Detail:   nameOr(m.VehicleName, "—") + ": " + strings.Join(crits, ", "),
		})
	}
	return alerts
}

func componentsNeedingCheck(alerts []Alert, snap fleet.Snapshot) []Alert {
	for _, m := range snap.Maintenance {
		checks := m.ComponentsWith(fleet.ComponentNeedsCheck)
		if len(checks) == 0 || len(m.ComponentsWith(fleet.ComponentCritical)) > 0 {
			continue
		}
		alerts = append(alerts, Alert{
			ID:       "warn-" + m.ID,
			Severity: Warning,
			Category: CategoryMaintenance,
			Title:    "Maintenance check needed",
			Detail:   nameOr(m.VehicleName, "—") + ": " + strings.Join(checks, ", "),
		})
	}
	return alerts
}

func serviceOverdue(alerts []Alert, snap fleet.Snapshot) []Alert {
	for _, m := range snap.Maintenance {
		// an absent service interval never counts as overdue
		if m.NextServiceKM == nil || m.CurrentKM <= *m.NextServiceKM {
			continue
		}
		over := math.Floor(m.CurrentKM - *m.NextServiceKM + 0.5)
		alerts = append(alerts, Alert{
			ID:       "km-" + m.ID,
			Severity: Warning,
			Category: CategoryMaintenance,
			Title:    "Service overdue",
			Detail:   fmt.Sprintf("%s: %skm past interval", nameOr(m.VehicleName, "—"), fleet.FormatNumber(over, true)),
		})
	}
	return alerts
}

func unassignedRides(alerts []Alert, snap fleet.Snapshot, now time.Time) []Alert {
	today := fleet.DateKey(now)
	tomorrow := fleet.DateKey(now.Add(24 * time.Hour))
	var pending []string
	for _, r := range snap.Rides {
		if !r.NeedsDriver() || (r.Date != today && r.Date != tomorrow) {
			continue
		}
		pending = append(pending, fmt.Sprintf("%s at %s", r.ID, nameOr(r.Time, "—")))
	}
	if len(pending) == 0 {
		return alerts
	}
	return append(alerts, Alert{
		ID:       "unassigned",
		Severity: Warning,
		Category: CategoryDispatch,
		Title:    fmt.Sprintf("%d ride(s) need drivers", len(pending)),
		Detail:   strings.Join(pending, ", "),
	})
}

func vehicleName(v fleet.Vehicle) string {
	name := strings.TrimSpace(v.Make + " " + v.Model)
	if name == "" {
		return nameOr(v.LicensePlate, "Vehicle "+v.ID)
	}
	return name
}

func nameOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
