// Package memory converts memory quantities such as "512MB" or "4GB" to and
// from integer megabytes.
package memory

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrInvalidMemoryFormat is returned for strings that are not <integer><MB|GB>.
	ErrInvalidMemoryFormat = errors.New("invalid memory format")

	// ErrUnsupportedUnit is returned for units that are recognized but not implemented (TB).
	ErrUnsupportedUnit = errors.New("unsupported memory unit")
)

// Unit multipliers, in megabytes
const (
	MB = 1
	GB = 1024 * MB
)

// Parse converts a memory string to megabytes. Units are case-insensitive.
func Parse(s string) (int, error) {
	str := strings.ToUpper(strings.TrimSpace(s))
	if len(str) < 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMemoryFormat, s)
	}

	digits, unit := str[:len(str)-2], str[len(str)-2:]

	var multiplier int
	switch unit {
	case "MB":
		multiplier = MB
	case "GB":
		multiplier = GB
	case "TB":
		return 0, fmt.Errorf("%w: %q (terabyte requests are not implemented)", ErrUnsupportedUnit, s)
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMemoryFormat, s)
	}

	// Only plain digits: no sign, no decimal point
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidMemoryFormat, s)
		}
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidMemoryFormat, s, err)
	}
	if n > math.MaxInt/multiplier {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidMemoryFormat, s)
	}

	return n * multiplier, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) int {
	mb, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return mb
}

// Format renders megabytes as "<mb>MB".
func Format(mb int) string {
	return strconv.Itoa(mb) + "MB"
}
