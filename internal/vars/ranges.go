// Package vars expands Range definitions into per-iteration value sequences
// and substitutes ${name} placeholders in instruction text.
package vars

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	tferrors "github.com/atoms-stack/testflow/internal/errors"
)

// precision is the number of decimals sweep values are rounded to.
const precision = 10

var (
	intervalPattern = regexp.MustCompile(`^\(\s*(\d+)\s*,\s*(\d+)\s*\)\s*,\s*(.*)$`)
	sweepPattern    = regexp.MustCompile(`^\(\s*([^,]+?)\s*,\s*([^,]+?)\s*,\s*([^)]+?)\s*\)$`)
)

// Range is one parsed Range entry covering iterations [From, To].
type Range struct {
	From, To int
	Sweep    bool
	Start    float64
	End      float64
	Step     float64 // sweep only
	Constant float64 // constant only
}

// Len returns how many iterations the range covers.
func (r Range) Len() int { return r.To - r.From + 1 }

// Values expands the range.
func (r Range) Values() []float64 {
	out := make([]float64, r.Len())
	if !r.Sweep {
		for i := range out {
			out[i] = r.Constant
		}
		return out
	}
	for i := range out {
		v := round(r.Start + float64(i)*r.Step)
		if r.Step > 0 && v > r.End || r.Step < 0 && v < r.End {
			v = r.End
		}
		out[i] = v
	}
	return out
}

func round(v float64) float64 {
	p := math.Pow(10, precision)
	return math.Round(v*p) / p
}

// ParseRange parses the payload of a Range line: "(a,b),<value>" or
// "(a,b),(start,end,step)". Line is used for error reporting only.
func ParseRange(line int, spec string) (Range, error) {
	m := intervalPattern.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil {
		return Range{}, tferrors.RangeFormat(line, spec, "expected (<from>,<to>),<value>")
	}
	r := Range{}
	r.From, _ = strconv.Atoi(m[1])
	r.To, _ = strconv.Atoi(m[2])
	if r.From < 1 || r.To < r.From {
		return Range{}, tferrors.RangeFormat(line, spec, fmt.Sprintf("interval (%d,%d) is not a 1-based ascending span", r.From, r.To))
	}

	value := strings.TrimSpace(m[3])
	if s := sweepPattern.FindStringSubmatch(value); s != nil {
		nums := make([]float64, 3)
		for i, raw := range s[1:] {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return Range{}, tferrors.RangeFormat(line, spec, fmt.Sprintf("sweep component %q is not a number", raw))
			}
			nums[i] = f
		}
		r.Sweep = true
		r.Start, r.End, r.Step = nums[0], nums[1], nums[2]
		return r, nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Range{}, tferrors.RangeFormat(line, spec, fmt.Sprintf("value %q is neither a number nor a (start,end,step) sweep", value))
	}
	r.Constant = f
	r.Start, r.End = f, f
	return r, nil
}

// ExpandRange parses spec and returns its values.
func ExpandRange(spec string) ([]float64, error) {
	r, err := ParseRange(0, spec)
	if err != nil {
		return nil, err
	}
	return r.Values(), nil
}

// FormatValue renders a value in the shortest decimal form.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
