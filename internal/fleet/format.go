package fleet

import (
	"math"
	"strconv"
	"strings"
)

// FormatNumber prints f with at most three decimals, grouping thousands with
// commas when group is set. NaN and infinities print as "—".
func FormatNumber(f float64, group bool) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "—"
	}
	f = math.Round(f*1000) / 1000
	neg := f < 0
	if neg {
		f = -f
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if group && len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			b.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	out := intPart
	if hasFrac {
		out += "." + frac
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}
