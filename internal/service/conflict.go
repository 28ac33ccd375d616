package service

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/calier/moxie/internal/domain/orchestration"
)

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// NewConflictDetector maps the aggregator's conflict_detection setting to a
// detector implementation. Unknown values are a configuration error.
func NewConflictDetector(kind string) (ConflictDetector, error) {
	switch kind {
	case "", "none":
		return NoopConflictDetector{}, nil
	case "numeric":
		return NumericConflictDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict detector %q", kind)
	}
}

// NumericConflictDetector flags pairs of outputs whose first numeric claim
// disagrees beyond a relative tolerance. Crude, but it catches the common
// case of specialists quoting different figures for the same quantity.
type NumericConflictDetector struct{}

func (NumericConflictDetector) Detect(_ context.Context, results []orchestration.AgentResult) []orchestration.Conflict {
	type claim struct {
		agent string
		value float64
	}
	var claims []claim
	for _, r := range results {
		m := numberRe.FindString(r.Output)
		if m == "" {
			continue
		}
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		claims = append(claims, claim{agent: r.Agent, value: v})
	}

	var conflicts []orchestration.Conflict
	for i := 0; i < len(claims); i++ {
		for j := i + 1; j < len(claims); j++ {
			a, b := claims[i], claims[j]
			if !numbersDisagree(a.value, b.value) {
				continue
			}
			conflicts = append(conflicts, orchestration.Conflict{
				Agents:      []string{a.agent, b.agent},
				Description: fmt.Sprintf("%s reports %g where %s reports %g", a.agent, a.value, b.agent, b.value),
			})
		}
	}
	return conflicts
}

// numbersDisagree applies a 10% relative tolerance, absolute near zero so
// small measurements do not trip on rounding noise.
func numbersDisagree(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff > 0.1
	}
	return diff/scale > 0.1
}
