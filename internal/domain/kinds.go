package domain

import (
	"fmt"
	"math"
)

// Category is the exercise category a submission belongs to. The numeric
// values match the category_type filter of the roster report.
type Category int

const (
	CategoryStrength    Category = 1
	CategoryEndurance   Category = 2
	CategoryFlexibility Category = 3
)

// Categories lists every category in filter order.
var Categories = []Category{CategoryStrength, CategoryEndurance, CategoryFlexibility}

var categoryNames = map[Category]string{
	CategoryStrength:    "strength",
	CategoryEndurance:   "endurance",
	CategoryFlexibility: "flexibility",
}

// ParseCategory maps an exercise_type string to its Category.
func ParseCategory(name string) (Category, error) {
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown exercise_type %q", name)
}

// String returns the wire name of the category.
func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

// RecordKind selects the metric series a persisted row holds, and with it
// the reduction used when rows are folded together.
type RecordKind int

const (
	KindDuration      RecordKind = 1
	KindAvgHeartRate  RecordKind = 2
	KindPeakHeartRate RecordKind = 3
)

// RecordKinds lists every kind.
var RecordKinds = []RecordKind{KindDuration, KindAvgHeartRate, KindPeakHeartRate}

func (k RecordKind) String() string {
	switch k {
	case KindDuration:
		return "duration"
	case KindAvgHeartRate:
		return "avg_heart_rate"
	case KindPeakHeartRate:
		return "peak_heart_rate"
	}
	return fmt.Sprintf("record_kind(%d)", int(k))
}

// Fold accumulates nullable values for one month cell.
type Fold interface {
	Add(v *float64)
	Value() *float64
}

// NewFold returns the reduction for the kind. Unknown kinds panic: the set
// is closed and every caller iterates RecordKinds.
func (k RecordKind) NewFold() Fold {
	switch k {
	case KindDuration:
		return &sumFold{}
	case KindAvgHeartRate:
		return &meanFold{}
	case KindPeakHeartRate:
		return &maxFold{}
	}
	panic(fmt.Sprintf("domain: no fold for %s", k))
}

// sumFold starts at "no value"; the first numeric contributor makes the
// cell non-null and nulls afterwards count as zero.
type sumFold struct {
	total float64
	seen  bool
}

func (f *sumFold) Add(v *float64) {
	if v == nil {
		return
	}
	f.total += *v
	f.seen = true
}

func (f *sumFold) Value() *float64 {
	if !f.seen {
		return nil
	}
	out := f.total
	return &out
}

type meanFold struct {
	total float64
	n     int
}

func (f *meanFold) Add(v *float64) {
	if v == nil {
		return
	}
	f.total += *v
	f.n++
}

func (f *meanFold) Value() *float64 {
	if f.n == 0 {
		return nil
	}
	out := roundTenth(f.total / float64(f.n))
	return &out
}

type maxFold struct {
	max  float64
	seen bool
}

func (f *maxFold) Add(v *float64) {
	if v == nil {
		return
	}
	if !f.seen || *v > f.max {
		f.max = *v
	}
	f.seen = true
}

func (f *maxFold) Value() *float64 {
	if !f.seen {
		return nil
	}
	out := f.max
	return &out
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
