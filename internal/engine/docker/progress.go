package docker

import (
	"io"
	"strconv"
	"strings"
)

const (
	streamStdout byte = 1
	streamStderr byte = 2
)

// progressPrefix marks log lines that report the simulated-time cursor, e.g. "SIMTIME 42.5".
const progressPrefix = "SIMTIME "

// parseProgress extracts the simulated time from a progress line.
func parseProgress(line string) (float64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), progressPrefix)
	if !ok {
		return 0, false
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil {
		return 0, false
	}
	return t, true
}

// readFrames demultiplexes a non-TTY Docker log stream and calls fn for every
// non-empty line. It returns when the stream ends or fails.
func readFrames(r io.Reader, fn func(stream byte, line string)) error {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size == 0 {
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}

		for _, line := range splitLines(string(payload)) {
			fn(header[0], line)
		}
	}
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
