package fleet

// Snapshot is a consistent read of every record the CRUD layer owns.
// Callers treat it as immutable once handed to the engine.
type Snapshot struct {
	Rides       []Ride              `json:"rides"`
	Drivers     []Driver            `json:"drivers"`
	Vehicles    []Vehicle           `json:"vehicles"`
	Clients     []Client            `json:"clients"`
	Maintenance []MaintenanceRecord `json:"maintenance"`
}

type Ride struct {
	ID              string     `json:"id"`
	Status          RideStatus `json:"status"`
	Date            string     `json:"date,omitempty"`
	Time            string     `json:"time,omitempty"`
	PassengerName   string     `json:"passengerName,omitempty"`
	PickupLocation  string     `json:"pickupLocation,omitempty"`
	DropoffLocation string     `json:"dropoffLocation,omitempty"`
	ServiceTier     string     `json:"serviceTier,omitempty"`
	PriceToClient   float64    `json:"priceToClient"`
	DriverPayout    float64    `json:"driverPayout"`
	ClientID        string     `json:"clientId,omitempty"`
	DriverID        string     `json:"driverId,omitempty"`
}

// NeedsDriver reports whether the ride is waiting for dispatch.
func (r Ride) NeedsDriver() bool {
	return r.DriverID == "" && r.Status == RideNew
}

type Driver struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	EmployeeNumber    string       `json:"employeeNumber,omitempty"`
	Status            DriverStatus `json:"status"`
	Rating            *float64     `json:"rating,omitempty"`
	CommissionPercent float64      `json:"commissionPercent,omitempty"`
	VehicleModel      string       `json:"vehicleModel,omitempty"`
	LicensePlate      string       `json:"licensePlate,omitempty"`
	Phone             string       `json:"phone,omitempty"`
}

type Vehicle struct {
	ID                 string        `json:"id"`
	Make               string        `json:"make,omitempty"`
	Model              string        `json:"model,omitempty"`
	Year               int           `json:"year,omitempty"`
	LicensePlate       string        `json:"licensePlate,omitempty"`
	Status             VehicleStatus `json:"status"`
	AssignedDriverID   string        `json:"assignedDriverId,omitempty"`
	Mileage            *float64      `json:"mileage,omitempty"`
	Seats              *int          `json:"seats,omitempty"`
	FuelType           string        `json:"fuelType,omitempty"`
	InsuranceExpiry    string        `json:"insuranceExpiry,omitempty"`
	RegistrationExpiry string        `json:"registrationExpiry,omitempty"`
}

type MaintenanceRecord struct {
	ID              string          `json:"id"`
	VehicleName     string          `json:"vehicleName,omitempty"`
	DriverID        string          `json:"driverId,omitempty"`
	LastServiceDate string          `json:"lastServiceDate,omitempty"`
	LastServiceKM   float64         `json:"lastServiceKM,omitempty"`
	NextServiceKM   *float64        `json:"nextServiceKM,omitempty"`
	CurrentKM       float64         `json:"currentKM,omitempty"`
	TireStatus      ComponentStatus `json:"tireStatus,omitempty"`
	BrakeStatus     ComponentStatus `json:"brakeStatus,omitempty"`
	ACStatus        ComponentStatus `json:"acStatus,omitempty"`
}

// Component pairs a maintenance component name with its reported health.
type Component struct {
	Name   string
	Status ComponentStatus
}

// Components lists tire, brake and ac health in that fixed order.
func (m MaintenanceRecord) Components() []Component {
	return []Component{
		{Name: "tire", Status: m.TireStatus},
		{Name: "brake", Status: m.BrakeStatus},
		{Name: "ac", Status: m.ACStatus},
	}
}

// ComponentsWith returns the names of components in the given state.
func (m MaintenanceRecord) ComponentsWith(status ComponentStatus) []string {
	var out []string
	for _, c := range m.Components() {
		if c.Status == status {
			out = append(out, c.Name)
		}
	}
	return out
}

type Client struct {
	ID           string  `json:"id"`
	CompanyName  string  `json:"companyName"`
	Tier         string  `json:"tier,omitempty"`
	ContractRate float64 `json:"contractRate,omitempty"`
	TotalSpent   float64 `json:"totalSpent,omitempty"`
	PaymentTerms string  `json:"paymentTerms,omitempty"`
}
