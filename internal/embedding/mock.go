package embedding

import (
	"fmt"
	"math"
)

// mockExtractor derives a deterministic pseudo-embedding from the
// window's sample statistics. Same readiness gate as the real backends
// so short/quiet input behaves identically in tests.
type mockExtractor struct {
	dimension  int
	minSeconds float64
	minRMS     float64
}

func NewMockExtractor(dimension int) Extractor {
	return &mockExtractor{
		dimension:  dimension,
		minSeconds: 0.5,
		minRMS:     0.001,
	}
}

func (m *mockExtractor) CreateStream() Stream {
	return &bufferedStream{}
}

func (m *mockExtractor) IsReady(s Stream) bool {
	bs, ok := s.(*bufferedStream)
	if !ok {
		return false
	}
	return hasUsableSignal(bs, m.minSeconds, m.minRMS)
}

func (m *mockExtractor) Compute(s Stream) ([]float32, error) {
	bs, ok := s.(*bufferedStream)
	if !ok {
		return nil, fmt.Errorf("stream was not created by this extractor")
	}

	var sum, sumSq float64
	for _, v := range bs.samples {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	n := float64(len(bs.samples))
	mean := sum / n
	rms := math.Sqrt(sumSq / n)

	vec := make([]float32, m.dimension)
	for i := range vec {
		vec[i] = float32(math.Sin(float64(i+1)*mean*1000 + rms))
	}
	return vec, nil
}

func (m *mockExtractor) Dimension() int {
	return m.dimension
}

func (m *mockExtractor) Close() error {
	return nil
}
