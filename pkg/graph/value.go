// Package graph defines the view of the host property graph that graphsync
// consumes: nodes, typed property values, per-commit change sets, label scans
// and transaction listeners.
package graph

import (
	"fmt"
	"time"
)

// Kind identifies the type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindPoint
	KindDate
	KindDateTime
	KindLocalDateTime
	KindTime
	KindLocalTime
	KindDuration
	KindList
	KindOpaque
)

var kindNames = map[Kind]string{
	KindNull:          "null",
	KindString:        "string",
	KindInt:           "int",
	KindFloat:         "float",
	KindBool:          "bool",
	KindPoint:         "point",
	KindDate:          "date",
	KindDateTime:      "datetime",
	KindLocalDateTime: "localdatetime",
	KindTime:          "time",
	KindLocalTime:     "localtime",
	KindDuration:      "duration",
	KindList:          "list",
	KindOpaque:        "opaque",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Point is a spatial point. Coordinates holds 2 or 3 values.
type Point struct {
	SRID        int
	Coordinates []float64
}

// Duration is a calendar-aware temporal amount.
type Duration struct {
	Months  int64
	Days    int64
	Seconds int64
	Nanos   int64
}

// Value is a property value of a node. The zero Value is null.
type Value struct {
	kind   Kind
	str    string
	num    int64
	float  float64
	flag   bool
	tm     time.Time
	point  Point
	dur    Duration
	list   []Value
	opaque any
}

// Null returns the null value.
func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Int(n int64) Value { return Value{kind: KindInt, num: n} }

func Float(f float64) Value { return Value{kind: KindFloat, float: f} }

func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// NewPoint returns a point value. The coordinate slice is copied.
func NewPoint(srid int, coords ...float64) Value {
	c := make([]float64, len(coords))
	copy(c, coords)
	return Value{kind: KindPoint, point: Point{SRID: srid, Coordinates: c}}
}

// Date returns a calendar date value. Only the year, month and day of t are used.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, tm: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateTime returns a date-time value with zone. The location of t is kept.
func DateTime(t time.Time) Value { return Value{kind: KindDateTime, tm: t} }

// LocalDateTime returns a date-time without zone. The location of t is ignored.
func LocalDateTime(t time.Time) Value { return Value{kind: KindLocalDateTime, tm: stripZone(t)} }

// Time returns a time-of-day value with offset. Only the clock and zone of t are used.
func Time(t time.Time) Value { return Value{kind: KindTime, tm: t} }

// LocalTime returns a time-of-day value without offset.
func LocalTime(t time.Time) Value { return Value{kind: KindLocalTime, tm: stripZone(t)} }

func NewDuration(d Duration) Value { return Value{kind: KindDuration, dur: d} }

// List returns a list value. The slice is copied.
func List(values ...Value) Value {
	l := make([]Value, len(values))
	copy(l, values)
	return Value{kind: KindList, list: l}
}

// Opaque wraps a host value graphsync does not understand.
func Opaque(v any) Value { return Value{kind: KindOpaque, opaque: v} }

func stripZone(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() string { return v.str }

func (v Value) AsInt() int64 { return v.num }

func (v Value) AsFloat() float64 { return v.float }

func (v Value) AsBool() bool { return v.flag }

// AsTime returns the instant for temporal kinds.
func (v Value) AsTime() time.Time { return v.tm }

func (v Value) AsPoint() Point { return v.point }

func (v Value) AsDuration() Duration { return v.dur }

func (v Value) AsList() []Value { return v.list }

func (v Value) AsOpaque() any { return v.opaque }

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindInt:
		return fmt.Sprintf("%d", v.num)
	case KindFloat:
		return fmt.Sprintf("%g", v.float)
	case KindBool:
		return fmt.Sprintf("%t", v.flag)
	case KindPoint:
		return fmt.Sprintf("point(%d, %v)", v.point.SRID, v.point.Coordinates)
	case KindDuration:
		return fmt.Sprintf("P%dM%dDT%d.%09dS", v.dur.Months, v.dur.Days, v.dur.Seconds, v.dur.Nanos)
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindOpaque:
		return fmt.Sprintf("%v", v.opaque)
	default:
		return v.tm.String()
	}
}
