package md

// Series is a bounded, oldest-first window of candles backed by a ring buffer.
type Series struct {
	values []Candle
	size   int
	index  int
	filled bool
}

func NewSeries(size int) *Series {
	if size <= 0 {
		size = 1
	}
	return &Series{
		values: make([]Candle, size),
		size:   size,
	}
}

func (s *Series) Add(candle Candle) {
	s.values[s.index] = candle
	s.index = (s.index + 1) % s.size
	if s.index == 0 {
		s.filled = true
	}
}

// Merge appends the candles of batch that are newer than the newest held
// candle. A candle sharing the newest timestamp replaces it, since the
// provider keeps updating the bar that is still forming. It returns the
// number of candles appended.
func (s *Series) Merge(batch []Candle) int {
	added := 0
	for _, candle := range batch {
		last, ok := s.Last()
		switch {
		case !ok || candle.Timestamp.After(last.Timestamp):
			s.Add(candle)
			added++
		case candle.Timestamp.Equal(last.Timestamp):
			s.replaceLast(candle)
		}
	}
	return added
}

func (s *Series) replaceLast(candle Candle) {
	i := s.index - 1
	if i < 0 {
		i = s.size - 1
	}
	s.values[i] = candle
}

func (s *Series) Len() int {
	if s.filled {
		return s.size
	}
	return s.index
}

func (s *Series) Last() (Candle, bool) {
	if s.Len() == 0 {
		return Candle{}, false
	}
	i := s.index - 1
	if i < 0 {
		i = s.size - 1
	}
	return s.values[i], true
}

// Candles returns a copy of the window, oldest first.
func (s *Series) Candles() []Candle {
	length := s.Len()
	result := make([]Candle, 0, length)
	if length == 0 {
		return result
	}
	if s.filled {
		result = append(result, s.values[s.index:]...)
	}
	result = append(result, s.values[:s.index]...)
	return result
}
