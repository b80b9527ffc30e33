// Package stream subscribes to the backend's multiplexed server-sent event
// stream.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// Event is a parsed SSE event.
type Event struct {
	Event string
	ID    string
	Data  string
}

// Handler is called for each SSE event.
type Handler func(event Event) error

const maxLineSize = 1 << 20

// Parse reads an SSE stream and calls handler for each event. Comment lines
// (keep-alives) are skipped.
func Parse(reader io.Reader, handler Handler) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var event Event

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
			}
			event = Event{}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event.Event = value
		case "id":
			event.ID = value
		case "data":
			if event.Data != "" {
				event.Data += "\n" + value
			} else {
				event.Data = value
			}
		}
	}

	if event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}

	return scanner.Err()
}
