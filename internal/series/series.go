// Package series provides the immutable value type shared by base data,
// overlay data and computed results.
//
// A Series is an ordered sequence of observations keyed by string index
// labels (period headers such as "2021Q1", or ordinal labels "0".."n-1").
// A missing observation is stored as NaN; use IsMissing to test for it.
// Every operation returns a new Series and accessors hand out copies, so a
// Series can be shared freely between goroutines once built.
package series

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrLengthMismatch is returned when index and values differ in length.
var ErrLengthMismatch = errors.New("index and values must have the same length")

// Series is a named, ordered sequence of float64 observations.
type Series struct {
	name   string
	index  []string
	values []float64
}

// Missing returns the value used to represent an absent observation.
func Missing() float64 {
	return math.NaN()
}

// IsMissing reports whether v represents an absent observation.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// New creates a Series from an explicit index. Index labels must be unique.
func New(name string, index []string, values []float64) (*Series, error) {
	if len(index) != len(values) {
		return nil, fmt.Errorf("series %q: %w (%d labels, %d values)", name, ErrLengthMismatch, len(index), len(values))
	}
	seen := make(map[string]struct{}, len(index))
	for _, label := range index {
		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("series %q: duplicate index label %q", name, label)
		}
		seen[label] = struct{}{}
	}
	return &Series{
		name:   name,
		index:  append([]string(nil), index...),
		values: append([]float64(nil), values...),
	}, nil
}

// FromValues creates a Series with ordinal index labels "0".."n-1".
func FromValues(name string, values []float64) *Series {
	return &Series{
		name:   name,
		index:  OrdinalIndex(len(values)),
		values: append([]float64(nil), values...),
	}
}

// Constant creates a Series holding v at every label of index. An empty
// index yields a single observation under the ordinal label "0".
func Constant(name string, v float64, index []string) *Series {
	if len(index) == 0 {
		index = OrdinalIndex(1)
	}
	values := make([]float64, len(index))
	for i := range values {
		values[i] = v
	}
	return &Series{name: name, index: append([]string(nil), index...), values: values}
}

// OrdinalIndex returns the labels "0".."n-1".
func OrdinalIndex(n int) []string {
	index := make([]string, n)
	for i := range index {
		index[i] = strconv.Itoa(i)
	}
	return index
}

// Name returns the variable name the series belongs to.
func (s *Series) Name() string {
	return s.name
}

// Len returns the number of observations.
func (s *Series) Len() int {
	return len(s.values)
}

// Index returns a copy of the index labels.
func (s *Series) Index() []string {
	return append([]string(nil), s.index...)
}

// Values returns a copy of the observations; missing ones are NaN.
func (s *Series) Values() []float64 {
	return append([]float64(nil), s.values...)
}

// At returns the label and value at position i.
func (s *Series) At(i int) (string, float64) {
	return s.index[i], s.values[i]
}

// Value looks up the observation stored under label.
func (s *Series) Value(label string) (float64, bool) {
	for i, l := range s.index {
		if l == label {
			return s.values[i], true
		}
	}
	return 0, false
}

// Rename returns the same observations under a new variable name.
func (s *Series) Rename(name string) *Series {
	return &Series{name: name, index: s.index, values: s.values}
}

// AllMissing reports whether the series holds no present observation.
func (s *Series) AllMissing() bool {
	for _, v := range s.values {
		if !IsMissing(v) {
			return false
		}
	}
	return true
}

// Equal reports whether both series have the same index and values, treating
// two missing observations as equal. Names are not compared.
func (s *Series) Equal(other *Series) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.values) != len(other.values) || !sameIndex(s.index, other.index) {
		return false
	}
	for i, v := range s.values {
		w := other.values[i]
		if IsMissing(v) && IsMissing(w) {
			continue
		}
		if v != w {
			return false
		}
	}
	return true
}

// From returns the observations from label onwards, inclusive.
func (s *Series) From(label string) (*Series, error) {
	for i, l := range s.index {
		if l == label {
			return &Series{name: s.name, index: s.index[i:], values: s.values[i:]}, nil
		}
	}
	return nil, fmt.Errorf("series %q: index label %q not found", s.name, label)
}

// String renders the series for logs and test failures.
func (s *Series) String() string {
	out := s.name + "["
	for i, v := range s.values {
		if i > 0 {
			out += " "
		}
		if IsMissing(v) {
			out += s.index[i] + ":NaN"
			continue
		}
		out += s.index[i] + ":" + strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out + "]"
}

func sameIndex(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
