package experiment

// Series is an append-only metric stream. Conditions read it through Last,
// so an evaluation pass must append before epoch-end hooks evaluate.
type Series struct {
	name   string
	values []float64
}

func NewSeries(name string) *Series {
	return &Series{name: name}
}

func (s *Series) Name() string { return s.name }

func (s *Series) Append(v float64) {
	s.values = append(s.values, v)
}

func (s *Series) Last() (float64, bool) {
	if len(s.values) == 0 {
		return 0, false
	}
	return s.values[len(s.values)-1], true
}

func (s *Series) Len() int { return len(s.values) }

func (s *Series) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

func (s *Series) restore(values []float64) {
	s.values = make([]float64, len(values))
	copy(s.values, values)
}
