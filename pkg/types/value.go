package types

import (
	"fmt"
	"strconv"
)

// CellString returns the display form of a cell value. Nil cells render as
// the empty string. Floats with no fractional part render without one.
func CellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case bool:
		if c {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(c)
	case int64:
		return strconv.FormatInt(c, 10)
	case uint64:
		return strconv.FormatUint(c, 10)
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(c), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", c)
	}
}

// CellNumber returns the numeric form of a cell value. Strings that parse
// as numbers count as numeric. The second return is false when the cell
// has no numeric form.
func CellNumber(v any) (float64, bool) {
	switch c := v.(type) {
	case int:
		return float64(c), true
	case int64:
		return float64(c), true
	case uint64:
		return float64(c), true
	case float64:
		return c, true
	case float32:
		return float64(c), true
	case string:
		f, err := strconv.ParseFloat(c, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
