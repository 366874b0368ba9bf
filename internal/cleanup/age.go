// internal/cleanup/age.go
package cleanup

import (
	"fmt"
	"strconv"
	"strings"

	"release-orchestrator/internal/domain"
)

// ParseAge converts a provider relative time such as "3 hours ago" into
// hours. "a minute ago" and "an hour ago" count as one unit. Units other than
// seconds, minutes, hours and days fail with ErrUnknownTimeUnit.
func ParseAge(createdAt string) (float64, error) {
	fields := strings.Fields(createdAt)
	if len(fields) != 3 || fields[2] != "ago" {
		return 0, fmt.Errorf("malformed session age %q", createdAt)
	}

	var n float64
	switch fields[0] {
	case "a", "an":
		n = 1
	default:
		v, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, fmt.Errorf("malformed session age %q: %w", createdAt, err)
		}
		n = float64(v)
	}

	unit := fields[1]
	switch {
	case strings.HasPrefix(unit, "second"):
		return n / 3600, nil
	case strings.HasPrefix(unit, "minute"):
		return n / 60, nil
	case strings.HasPrefix(unit, "hour"):
		return n, nil
	case strings.HasPrefix(unit, "day"):
		return n * 24, nil
	default:
		return 0, fmt.Errorf("%w: %q in %q", domain.ErrUnknownTimeUnit, unit, createdAt)
	}
}
