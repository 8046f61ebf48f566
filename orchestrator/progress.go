package orchestrator

import (
	"strconv"
	"strings"
)

const fatalImageInvalidPrefix = "FATAL_IMAGE_INVALID:"

// ParseProgressPercent recognizes a renderer stdout line reporting percent
// complete. Accepted shapes: "12%", "12.5 %", "render 12.5 %" -- any line
// ending in '%' whose last whitespace-separated token parses as a float in
// [0, 100]. Negative values, values over 100, and non-numeric tokens are
// rejected rather than reported.
func ParseProgressPercent(line string) (float64, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasSuffix(s, "%") {
		return 0, false
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return 0, false
	}
	fields := strings.Fields(s)
	token := fields[len(fields)-1]
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	if v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}

// ParseFatalImageInvalid reports whether line is the renderer's
// unrecoverable-asset signal, and the reason text it carries.
func ParseFatalImageInvalid(line string) (string, bool) {
	if !strings.HasPrefix(line, fatalImageInvalidPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, fatalImageInvalidPrefix)), true
}
