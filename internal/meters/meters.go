package meters

import "time"

// RunningAverage accumulates the mean of a scalar stream.
type RunningAverage struct {
	sum float64
	n   int64
}

func (m *RunningAverage) Add(v float64) {
	m.sum += v
	m.n++
}

func (m *RunningAverage) Value() (float64, bool) {
	if m.n == 0 {
		return 0, false
	}
	return m.sum / float64(m.n), true
}

func (m *RunningAverage) Count() int64 { return m.n }

func (m *RunningAverage) Reset() {
	m.sum = 0
	m.n = 0
}

// SequenceError accumulates edit distance against reference length, yielding a
// normalized error rate: token-level for CER, word-level for WER.
type SequenceError struct {
	distance int64
	length   int64
}

func (m *SequenceError) AddTokens(ref, hyp []int) {
	m.distance += int64(levenshtein(ref, hyp))
	m.length += int64(len(ref))
}

func (m *SequenceError) AddWords(ref, hyp [][]int) {
	m.distance += int64(levenshteinWords(ref, hyp))
	m.length += int64(len(ref))
}

func (m *SequenceError) Value() (float64, bool) {
	if m.length == 0 {
		return 0, false
	}
	return float64(m.distance) / float64(m.length), true
}

func (m *SequenceError) Reset() {
	m.distance = 0
	m.length = 0
}

// SplitWords cuts a token sequence into words on delimiter tokens. Runs of
// delimiters collapse; no empty words are produced.
func SplitWords(seq []int, delimiters map[int]bool) [][]int {
	words := make([][]int, 0, len(seq)/2+1)
	var current []int
	for _, tok := range seq {
		if delimiters[tok] {
			if len(current) > 0 {
				words = append(words, current)
				current = nil
			}
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		words = append(words, current)
	}
	return words
}

// Timer measures wall time for one phase.
type Timer struct {
	started time.Time
}

func (t *Timer) Start() { t.started = time.Now() }

func (t *Timer) Elapsed() time.Duration {
	if t.started.IsZero() {
		return 0
	}
	return time.Since(t.started)
}
