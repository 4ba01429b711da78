package aiproxy

import (
	"bufio"
	"io"
	"strings"
)

const maxEventSize = 1 << 20

// readEvents calls fn for every server-sent event in r until fn returns false
// or the stream ends. Multi-line data fields are joined with newlines.
func readEvents(r io.Reader, fn func(event, data string) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var (
		event string
		data  []string
	)
	dispatch := func() bool {
		if len(data) == 0 {
			event = ""
			return true
		}
		ok := fn(event, strings.Join(data, "\n"))
		event, data = "", data[:0]
		return ok
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if !dispatch() {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	dispatch()
	return nil
}
