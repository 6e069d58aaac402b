package series

import "math"

// Shift moves every observation n positions forward, introducing n missing
// observations at the start. The index is unchanged.
func (s *Series) Shift(n int) *Series {
	values := make([]float64, len(s.values))
	for i := range values {
		if i-n < 0 || i-n >= len(s.values) {
			values[i] = Missing()
			continue
		}
		values[i] = s.values[i-n]
	}
	return &Series{name: s.name, index: s.index, values: values}
}

// AbsDiff returns the absolute difference between consecutive observations.
// The first observation is missing.
func (s *Series) AbsDiff() *Series {
	values := make([]float64, len(s.values))
	for i := range values {
		if i == 0 {
			values[i] = Missing()
			continue
		}
		values[i] = math.Abs(s.values[i] - s.values[i-1])
	}
	return &Series{name: s.name, index: s.index, values: values}
}

// PctChange returns the period-over-period fractional change. A missing or
// zero prior observation yields a missing value.
func (s *Series) PctChange() *Series {
	values := make([]float64, len(s.values))
	for i := range values {
		if i == 0 {
			values[i] = Missing()
			continue
		}
		prev := s.values[i-1]
		if IsMissing(prev) || prev == 0 {
			values[i] = Missing()
			continue
		}
		values[i] = (s.values[i] - prev) / prev
	}
	return &Series{name: s.name, index: s.index, values: values}
}

// Map applies f to every observation. Missing observations stay missing.
func (s *Series) Map(f func(float64) float64) *Series {
	values := make([]float64, len(s.values))
	for i, v := range s.values {
		if IsMissing(v) {
			values[i] = v
			continue
		}
		values[i] = normalize(f(v))
	}
	return &Series{name: s.name, index: s.index, values: values}
}

// Combine applies op element-wise over the outer alignment of a and b. A
// label present on only one side, or missing on either side, yields a
// missing result; non-finite results are stored as missing as well.
func Combine(name string, a, b *Series, op func(x, y float64) float64) *Series {
	index, av, bv := Align(a, b)
	values := make([]float64, len(index))
	for i := range index {
		x, y := av[i], bv[i]
		if IsMissing(x) || IsMissing(y) {
			values[i] = Missing()
			continue
		}
		values[i] = normalize(op(x, y))
	}
	return &Series{name: name, index: index, values: values}
}

// Align joins the indices of a and b (labels of a first, then labels only b
// carries) and returns both value slices laid out over that union.
func Align(a, b *Series) ([]string, []float64, []float64) {
	if sameIndex(a.index, b.index) {
		return a.index, a.values, b.values
	}
	index := UnionIndex(a, b)
	return index, reindex(a, index), reindex(b, index)
}

// UnionIndex returns the ordered union of all labels, first occurrence wins.
func UnionIndex(all ...*Series) []string {
	var index []string
	seen := make(map[string]struct{})
	for _, s := range all {
		if s == nil {
			continue
		}
		for _, label := range s.index {
			if _, ok := seen[label]; ok {
				continue
			}
			seen[label] = struct{}{}
			index = append(index, label)
		}
	}
	return index
}

// Reindex lays s out over index, filling absent labels with missing values.
func (s *Series) Reindex(index []string) *Series {
	return &Series{name: s.name, index: append([]string(nil), index...), values: reindex(s, index)}
}

func reindex(s *Series, index []string) []float64 {
	pos := make(map[string]int, len(s.index))
	for i, label := range s.index {
		pos[label] = i
	}
	values := make([]float64, len(index))
	for i, label := range index {
		if p, ok := pos[label]; ok {
			values[i] = s.values[p]
			continue
		}
		values[i] = Missing()
	}
	return values
}

func normalize(v float64) float64 {
	if math.IsInf(v, 0) {
		return Missing()
	}
	return v
}
