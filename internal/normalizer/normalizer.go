// Package normalizer converts graph property values into JSON-compatible
// values accepted by the search engine.
package normalizer

import (
	"github.com/syntrixbase/graphsync/pkg/graph"
)

const (
	dateLayout          = "2006-01-02"
	dateTimeLayout      = "2006-01-02T15:04:05.000-0700"
	localDateTimeLayout = "2006-01-02T15:04:05.000"
	timeLayout          = "150405"
)

// Normalize returns the JSON-compatible form of v. It never fails.
//
// Points keep their first two coordinates, temporal values become strings,
// durations become a map of their components. Scalars pass through and null
// becomes nil.
func Normalize(v graph.Value) any {
	switch v.Kind() {
	case graph.KindNull:
		return nil
	case graph.KindString:
		return v.AsString()
	case graph.KindInt:
		return v.AsInt()
	case graph.KindFloat:
		return v.AsFloat()
	case graph.KindBool:
		return v.AsBool()
	case graph.KindPoint:
		return point(v.AsPoint())
	case graph.KindDate:
		return v.AsTime().Format(dateLayout)
	case graph.KindDateTime:
		return v.AsTime().Format(dateTimeLayout)
	case graph.KindLocalDateTime:
		return v.AsTime().Format(localDateTimeLayout) + "Z"
	case graph.KindTime, graph.KindLocalTime:
		// The offset of a zoned time is not rendered.
		return v.AsTime().Format(timeLayout) + "Z"
	case graph.KindDuration:
		d := v.AsDuration()
		return map[string]int64{
			"months":  d.Months,
			"days":    d.Days,
			"seconds": d.Seconds,
			"nanos":   d.Nanos,
		}
	case graph.KindList:
		items := v.AsList()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = Normalize(item)
		}
		return out
	case graph.KindOpaque:
		return v.AsOpaque()
	default:
		return nil
	}
}

func point(p graph.Point) []float64 {
	n := len(p.Coordinates)
	if n > 2 {
		n = 2
	}
	out := make([]float64, n)
	copy(out, p.Coordinates[:n])
	return out
}
