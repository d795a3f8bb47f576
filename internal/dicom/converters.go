package dicom

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Converter normalizes a raw attribute value. Converters are total: any
// input they cannot interpret yields nil.
type Converter func(any) any

// ConvertString returns trimmed text, joining multi-values with a backslash.
// Empty text yields nil.
func ConvertString(v any) any {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case []string:
		s = strings.Join(x, `\`)
	case []byte:
		s = string(x)
	case int, int64, float64:
		s = fmt.Sprint(x)
	default:
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, "\x00"))
	if s == "" {
		return nil
	}
	return s
}

// ConvertDate normalizes YYYYMMDD or YYYY-MM-DD to YYYY-MM-DD
func ConvertDate(v any) any {
	s, ok := scalarText(v)
	if !ok {
		return nil
	}

	var layout string
	switch len(s) {
	case 8:
		layout = "20060102"
	case 10:
		layout = "2006-01-02"
	default:
		return nil
	}

	t, err := time.Parse(layout, s)
	if err != nil {
		return nil
	}
	return t.Format("2006-01-02")
}

// ConvertTime normalizes HHMMSS[.ffffff] or HH:MM:SS[.ffffff] to
// HH:MM:SS[.ffffff]. Fewer than six clock digits yields nil.
func ConvertTime(v any) any {
	s, ok := scalarText(v)
	if !ok {
		return nil
	}

	clock, frac, hasFrac := strings.Cut(s, ".")
	if len(clock) == 8 && clock[2] == ':' && clock[5] == ':' {
		clock = clock[0:2] + clock[3:5] + clock[6:8]
	}
	if len(clock) != 6 || !allDigits(clock) {
		return nil
	}
	if hasFrac && (frac == "" || len(frac) > 6 || !allDigits(frac)) {
		return nil
	}

	hh, _ := strconv.Atoi(clock[0:2])
	mm, _ := strconv.Atoi(clock[2:4])
	ss, _ := strconv.Atoi(clock[4:6])
	if hh > 23 || mm > 59 || ss > 60 {
		return nil
	}

	out := clock[0:2] + ":" + clock[2:4] + ":" + clock[4:6]
	if hasFrac {
		out += "." + frac
	}
	return out
}

// ConvertMultiValue joins a value sequence with a backslash, keeping empty
// elements. Scalars pass through unchanged.
func ConvertMultiValue(v any) any {
	switch x := v.(type) {
	case []string:
		return strings.Join(x, `\`)
	case []int:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, `\`)
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		return strings.Join(parts, `\`)
	default:
		return v
	}
}

// ConvertInt coerces to int, taking the first element of a multi-value
func ConvertInt(v any) any {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return int(x)
		}
		return nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return ConvertInt(f)
		}
		return nil
	case []int:
		if len(x) > 0 {
			return x[0]
		}
	case []float64:
		if len(x) > 0 {
			return ConvertInt(x[0])
		}
	case []string:
		if len(x) > 0 {
			return ConvertInt(x[0])
		}
	}
	return nil
}

// ConvertFloat coerces to float64, taking the first element of a multi-value
func ConvertFloat(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		return ConvertFloat(f)
	case []float64:
		if len(x) > 0 {
			return ConvertFloat(x[0])
		}
	case []int:
		if len(x) > 0 {
			return float64(x[0])
		}
	case []string:
		if len(x) > 0 {
			return ConvertFloat(x[0])
		}
	}
	return nil
}

// ConvertSequence encodes sequence items as a JSON array of objects keyed by
// eight-digit hex tag numbers, e.g. [{"00181072":"083000"}].
func ConvertSequence(v any) any {
	items, ok := v.([]SequenceItem)
	if !ok || len(items) == 0 {
		return nil
	}
	data, err := json.Marshal(encodeItems(items))
	if err != nil {
		return nil
	}
	return string(data)
}

func encodeItems(items []SequenceItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj := make(map[string]any, len(item))
		for _, tv := range item {
			key := fmt.Sprintf("%08X", tv.Tag)
			if nested, ok := tv.Value.([]SequenceItem); ok {
				obj[key] = encodeItems(nested)
				continue
			}
			obj[key] = tv.Value
		}
		out = append(out, obj)
	}
	return out
}

// scalarText reduces v to trimmed text for date/time parsing
func scalarText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case []string:
		if len(x) == 0 {
			return "", false
		}
		return scalarText(x[0])
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		if x != math.Trunc(x) {
			return "", false
		}
		return strconv.FormatInt(int64(x), 10), true
	default:
		return "", false
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
