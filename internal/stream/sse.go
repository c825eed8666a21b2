package stream

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// maxLineSize bounds a single SSE line. Mercure payloads are full JSON-LD
// resources, well under this.
const maxLineSize = 1 << 20

// frame is one dispatched server-sent event.
type frame struct {
	ID   string
	Data string
	// Retry is the server's suggested reconnect delay in ms, or -1. A
	// hint sent in a data-less event carries over to the next frame.
	Retry int
}

// frameReader decodes the text/event-stream format.
type frameReader struct {
	sc *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &frameReader{sc: sc}
}

// Next returns the next event that carries data. Comment lines and
// events without data are skipped. A partial event at EOF is discarded.
func (fr *frameReader) Next() (frame, error) {
	var (
		f       = frame{Retry: -1}
		data    strings.Builder
		hasData bool
	)

	for fr.sc.Scan() {
		line := strings.TrimSuffix(fr.sc.Text(), "\r")

		if line == "" {
			if hasData {
				f.Data = strings.TrimSuffix(data.String(), "\n")
				return f, nil
			}
			f = frame{Retry: f.Retry}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				f.ID = value
			}
		case "retry":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				f.Retry = n
			}
		}
	}

	if err := fr.sc.Err(); err != nil {
		return frame{}, err
	}
	return frame{}, io.EOF
}
