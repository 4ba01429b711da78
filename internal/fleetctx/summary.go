// Package fleetctx turns a fleet snapshot into the background prompt handed to
// the AI provider. Summarize decides what goes into each section; Render decides
// how it reads.
package fleetctx

import (
	"math"
	"strings"
	"time"

	"github.com/zoobzio/clockz"

	"fleetintel/internal/fleet"
)

const (
	Preamble = "You are the AI Operations Manager for Theodorus — a premium fleet management and mobility company in Addis Ababa, Ethiopia. You have full real-time access to fleet data and provide intelligent analysis, smart dispatch, risk detection, and strategic insights."

	DispatchRules = "DISPATCH RULES: Only assign Active drivers. Airport VIP → prefer Land Cruiser Prado. School runs → prefer HiAce. Match vehicle capacity to passenger count."

	Closing = "Be concise, specific, and proactive. Use driver names and ride IDs. Format responses with markdown headers and bullets."
)

type Summary struct {
	Preamble string
	Today    string
	Tomorrow string

	Drivers        []DriverLine
	ActiveDrivers  int
	Vehicles       []VehicleLine
	ActiveVehicles int
	Maintenance    []MaintenanceLine
	Rides          []RideLine
	Clients        []ClientLine
	Financials     Financials

	DispatchRules string
	Closing       string
}

type DriverLine struct {
	Flag         string
	Number       string
	Name         string
	VehicleModel string
	Plate        string
	Rating       *float64
	Commission   float64
	Completed    int
	Active       int
	Phone        string
}

type VehicleLine struct {
	Icon             string
	Plate            string
	Description      string
	Seats            *int
	FuelType         string
	DriverName       string
	Mileage          *float64
	Insurance        string
	InsuranceFlag    string
	Registration     string
	RegistrationFlag string
}

type MaintenanceLine struct {
	VehicleName string
	LastService string
	NextKM      *float64
	CurrentKM   float64
	// KMLeft is NextKM - CurrentKM when NextKM is set; negative means overdue.
	KMLeft   float64
	Critical []string
	Check    []string
}

type RideLine struct {
	ID          string
	Date        string
	Time        string
	Status      string
	NeedsDriver bool
	Tier        string
	Passenger   string
	ClientName  string
	DriverName  string
	Pickup      string
	Dropoff     string
	Price       float64
}

type ClientLine struct {
	Company string
	Tier    string
	Rate    float64
	Spent   float64
	Rides   int
}

// Financials aggregates money over completed rides and rides still needing a driver.
type Financials struct {
	Revenue    float64
	Payout     float64
	Profit     float64
	Margin     int
	AtRisk     float64
	Unassigned int
}

// Summarize collects the typed section data for snap as seen at now.
func Summarize(snap fleet.Snapshot, now time.Time) Summary {
	idx := fleet.NewIndex(snap)
	s := Summary{
		Preamble:      Preamble,
		Today:         fleet.DateKey(now),
		Tomorrow:      fleet.DateKey(now.Add(24 * time.Hour)),
		DispatchRules: DispatchRules,
		Closing:       Closing,
	}

	for _, d := range snap.Drivers {
		if d.Status == fleet.DriverActive {
			s.ActiveDrivers++
		}
		number := d.EmployeeNumber
		if number == "" {
			number = d.ID
		}
		s.Drivers = append(s.Drivers, DriverLine{
			Flag:         driverFlag(d.Status),
			Number:       number,
			Name:         orDefault(d.Name, "Unknown"),
			VehicleModel: d.VehicleModel,
			Plate:        d.LicensePlate,
			Rating:       d.Rating,
			Commission:   d.CommissionPercent,
			Completed:    idx.CompletedRides(d.ID),
			Active:       idx.ActiveRides(d.ID),
			Phone:        d.Phone,
		})
	}

	for _, v := range snap.Vehicles {
		if v.Status == fleet.VehicleActive {
			s.ActiveVehicles++
		}
		driverName := "Unassigned"
		if d, ok := idx.Driver(v.AssignedDriverID); ok && d.Name != "" {
			driverName = d.Name
		}
		s.Vehicles = append(s.Vehicles, VehicleLine{
			Icon:             vehicleIcon(v.Status),
			Plate:            v.LicensePlate,
			Description:      vehicleDescription(v),
			Seats:            v.Seats,
			FuelType:         v.FuelType,
			DriverName:       driverName,
			Mileage:          v.Mileage,
			Insurance:        v.InsuranceExpiry,
			InsuranceFlag:    expiryFlag(fleet.ClassifyExpiry(v.InsuranceExpiry, now)),
			Registration:     v.RegistrationExpiry,
			RegistrationFlag: expiryFlag(fleet.ClassifyExpiry(v.RegistrationExpiry, now)),
		})
	}

	for _, m := range snap.Maintenance {
		line := MaintenanceLine{
			VehicleName: m.VehicleName,
			LastService: m.LastServiceDate,
			NextKM:      m.NextServiceKM,
			CurrentKM:   m.CurrentKM,
			Critical:    m.ComponentsWith(fleet.ComponentCritical),
			Check:       m.ComponentsWith(fleet.ComponentNeedsCheck),
		}
		if m.NextServiceKM != nil {
			line.KMLeft = *m.NextServiceKM - m.CurrentKM
		}
		s.Maintenance = append(s.Maintenance, line)
	}

	for _, r := range snap.Rides {
		clientName := "Unknown"
		if c, ok := idx.Client(r.ClientID); ok && c.CompanyName != "" {
			clientName = c.CompanyName
		}
		driverName := "UNASSIGNED"
		if r.DriverID != "" {
			driverName = "Unknown"
			if d, ok := idx.Driver(r.DriverID); ok && d.Name != "" {
				driverName = d.Name
			}
		}
		s.Rides = append(s.Rides, RideLine{
			ID:          r.ID,
			Date:        r.Date,
			Time:        r.Time,
			Status:      strings.ToUpper(string(r.Status)),
			NeedsDriver: r.NeedsDriver(),
			Tier:        r.ServiceTier,
			Passenger:   r.PassengerName,
			ClientName:  clientName,
			DriverName:  driverName,
			Pickup:      r.PickupLocation,
			Dropoff:     r.DropoffLocation,
			Price:       r.PriceToClient,
		})
	}

	for _, c := range snap.Clients {
		s.Clients = append(s.Clients, ClientLine{
			Company: c.CompanyName,
			Tier:    c.Tier,
			Rate:    c.ContractRate,
			Spent:   c.TotalSpent,
			Rides:   idx.ClientRides(c.ID),
		})
	}

	s.Financials = Totals(snap.Rides)
	return s
}

// Totals sums revenue and payout over completed rides. Margin is the rounded
// profit share of revenue, 0 when there is no revenue.
func Totals(rides []fleet.Ride) Financials {
	var f Financials
	for _, r := range rides {
		if r.Status == fleet.RideCompleted {
			f.Revenue += r.PriceToClient
			f.Payout += r.DriverPayout
		}
		if r.NeedsDriver() {
			f.Unassigned++
			f.AtRisk += r.PriceToClient
		}
	}
	f.Profit = f.Revenue - f.Payout
	if f.Revenue > 0 {
		f.Margin = int(math.Floor(f.Profit/f.Revenue*100 + 0.5))
	}
	return f
}

// Build renders the context for snap as seen at now. It never fails.
func Build(snap fleet.Snapshot, now time.Time) string {
	return Render(Summarize(snap, now))
}

// Builder renders contexts against an injected clock.
type Builder struct {
	clock clockz.Clock
}

func NewBuilder(clock clockz.Clock) *Builder {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Builder{clock: clock}
}

func (b *Builder) Build(snap fleet.Snapshot) string {
	return Build(snap, b.clock.Now())
}

func driverFlag(s fleet.DriverStatus) string {
	switch s {
	case fleet.DriverSuspended:
		return "🔴 SUSPENDED"
	case fleet.DriverOnLeave:
		return "🟡 ON LEAVE"
	}
	return "🟢 Active"
}

func vehicleIcon(s fleet.VehicleStatus) string {
	switch s {
	case fleet.VehicleActive:
		return "🟢"
	case fleet.VehicleMaintenance:
		return "🔧"
	}
	return "⚫"
}

func expiryFlag(e fleet.Expiry) string {
	switch e {
	case fleet.ExpiryExpired:
		return "⚠️EXPIRED"
	case fleet.ExpiryWithin30:
		return "⚠️<30d"
	case fleet.ExpiryWithin60:
		return "⚠️<60d"
	case fleet.ExpiryOK:
		return "✓"
	}
	return "?"
}

func vehicleDescription(v fleet.Vehicle) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{v.Make, v.Model} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if v.Year > 0 {
		parts = append(parts, fleet.FormatNumber(float64(v.Year), false))
	}
	if len(parts) == 0 {
		return "—"
	}
	return strings.Join(parts, " ")
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
