// Package testbench reads the text fixture format used by offline
// replay/test tooling: one BIOLAB frame per line, each a whitespace
// separated list of decimal byte values (spec.md §4.A, §6).
package testbench

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kayserspace/waps-ies-sub000/internal/biolab"
)

// ReadAll parses every line of r into a Frame, skipping blank lines.
// A line that fails to parse into a well-formed frame is reported via
// the returned error slice rather than aborting the whole read; frames
// up to that point are still returned.
func ReadAll(r io.Reader, now func() time.Time) ([]*biolab.Frame, []error) {
	var frames []*biolab.Frame
	var errs []error
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		raw, err := parseLine(line)
		if err != nil {
			errs = append(errs, fmt.Errorf("testbench: line %d: %w", lineNo, err))
			continue
		}
		ts := now()
		f, ok := biolab.Accept(raw, ts, ts)
		if !ok {
			errs = append(errs, fmt.Errorf("testbench: line %d: not a well-formed BIOLAB frame", lineNo))
			continue
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("testbench: scan: %w", err))
	}
	return frames, errs
}

func parseLine(line string) ([]byte, error) {
	fields := strings.Fields(line)
	out := make([]byte, 0, len(fields))
	for _, tok := range fields {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("token %q is not a decimal byte value: %w", tok, err)
		}
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("token %q out of byte range", tok)
		}
		out = append(out, byte(n))
	}
	return out, nil
}
