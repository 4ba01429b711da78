package fleetctx

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"text/template"

	"fleetintel/internal/fleet"
)

const contextTemplate = `{{.Preamble}}

Today: {{.Today}} (Tomorrow: {{.Tomorrow}})

═══ DRIVERS ({{len .Drivers}} total · {{.ActiveDrivers}} active) ═══
{{range .Drivers}}  {{.Flag}} #{{.Number}} {{.Name}} | {{.VehicleModel}} | Plate: {{dash .Plate}} | Rating: {{optOr .Rating "—"}}⭐ | Commission: {{num .Commission}}% | Completed: {{.Completed}} | Active: {{.Active}} | Phone: {{dash .Phone}}
{{else}}  No drivers.
{{end}}
═══ VEHICLES ({{len .Vehicles}} total · {{.ActiveVehicles}} active) ═══
{{range .Vehicles}}  {{.Icon}} {{dash .Plate}} | {{.Description}} | {{seats .Seats}} seats | {{dash .FuelType}} | Driver: {{.DriverName}} | Mileage: {{km .Mileage}} | Ins: {{dash .Insurance}}[{{.InsuranceFlag}}] | Reg: {{dash .Registration}}[{{.RegistrationFlag}}]
{{else}}  No vehicles.
{{end}}
═══ MAINTENANCE ═══
{{range .Maintenance}}  {{dash .VehicleName}} | Last svc: {{dash .LastService}} | Next: {{optOr .NextKM "?"}}km | Now: {{num .CurrentKM}}km ({{remaining .}}) | {{health .}}
{{else}}  No records.
{{end}}
═══ RIDES ({{len .Rides}} total · {{.Financials.Unassigned}} unassigned) ═══
{{range .Rides}}  {{.ID}} | {{dash .Date}}{{if .Time}} {{.Time}}{{end}} | {{.Status}}{{if .NeedsDriver}} ⚠️NEEDS DRIVER{{end}} | {{dash .Tier}} | "{{dash .Passenger}}" | Client: {{.ClientName}} | Driver: {{.DriverName}} | {{dash .Pickup}} → {{dash .Dropoff}} | ${{numOr .Price "?"}}
{{else}}  No rides.
{{end}}
═══ CLIENTS ({{len .Clients}}) ═══
{{range .Clients}}  {{dash .Company}} | {{dash .Tier}} | Rate: ${{numOr .Rate "?"}}/ride | Spent: ${{num .Spent}} | Total rides: {{.Rides}}
{{else}}  No clients.
{{end}}
═══ FINANCIALS ═══
{{with .Financials}}  Revenue: ${{num .Revenue}} | Payouts: ${{num .Payout}} | Net Profit: ${{num .Profit}} ({{.Margin}}% margin)
  Unassigned revenue at risk: ${{num .AtRisk}} across {{.Unassigned}} ride(s)
{{end}}
{{.DispatchRules}}

{{.Closing}}`

var contextTmpl = template.Must(template.New("context").Funcs(template.FuncMap{
	"dash":      func(s string) string { return orDefault(s, "—") },
	"num":       func(f float64) string { return fleet.FormatNumber(f, true) },
	"numOr":     numOr,
	"optOr":     optOr,
	"seats":     seats,
	"km":        formatKM,
	"remaining": remaining,
	"health":    health,
}).Parse(contextTemplate))

// Render lays out the summary as the prompt text.
func Render(s Summary) string {
	var buf bytes.Buffer
	if err := contextTmpl.Execute(&buf, s); err != nil {
		// Only reachable through a template bug; keep whatever rendered.
		return buf.String()
	}
	return buf.String()
}

func numOr(f float64, placeholder string) string {
	if f == 0 || math.IsNaN(f) {
		return placeholder
	}
	return fleet.FormatNumber(f, true)
}

// optOr prints an optional number; only an absent one gets the placeholder.
func optOr(f *float64, placeholder string) string {
	if f == nil {
		return placeholder
	}
	return fleet.FormatNumber(*f, true)
}

func seats(n *int) string {
	if n == nil {
		return "?"
	}
	return strconv.Itoa(*n)
}

func formatKM(mileage *float64) string {
	if mileage == nil {
		return "—"
	}
	return fleet.FormatNumber(*mileage, true) + "km"
}

func remaining(m MaintenanceLine) string {
	if m.NextKM == nil {
		return "no interval"
	}
	if m.KMLeft >= 0 {
		return fleet.FormatNumber(m.KMLeft, true) + "km left"
	}
	return fleet.FormatNumber(-m.KMLeft, true) + "km OVERDUE"
}

func health(m MaintenanceLine) string {
	flags := make([]string, 0, len(m.Critical)+len(m.Check))
	for _, c := range m.Critical {
		flags = append(flags, c+"🔴")
	}
	for _, c := range m.Check {
		flags = append(flags, c+"⚠️")
	}
	if len(flags) == 0 {
		return "✓ All Good"
	}
	return strings.Join(flags, ", ")
}
