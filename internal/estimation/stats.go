package estimation

import (
	"math"

	"task-lifecycle-api/internal/repository"
)

// Summary aggregates a completed-task sample.
type Summary struct {
	N          int
	MeanHours  float64
	MeanPoints float64
	// StdDev is the sample standard deviation of per-task hours; nil when it cannot be computed (n < 2).
	StdDev *float64
}

// Summarize reduces samples to their means and the sample standard deviation of duration.
func Summarize(samples []repository.Sample) Summary {
	s := Summary{N: len(samples)}
	if s.N == 0 {
		return s
	}

	var hours, points float64
	for _, smp := range samples {
		hours += smp.Hours
		points += float64(smp.StoryPoints)
	}
	s.MeanHours = hours / float64(s.N)
	s.MeanPoints = points / float64(s.N)

	if s.N < 2 {
		return s
	}
	var sq float64
	for _, smp := range samples {
		d := smp.Hours - s.MeanHours
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(s.N-1))
	s.StdDev = &sd
	return s
}

// ComplexityMultiplier scales hours-per-point by size bucket: small tasks carry
// proportionally less overhead, large ones more.
func ComplexityMultiplier(points int) float64 {
	switch {
	case points <= 2:
		return 0.8
	case points <= 5:
		return 1.0
	case points <= 8:
		return 1.3
	default:
		return 1.6
	}
}

// Confidence scores a sample of size n with coefficient of variation cv, clamped to [0.1, 0.95].
func Confidence(n int, cv float64) float64 {
	c := 0.5
	switch {
	case n >= 20:
		c += 0.3
	case n >= 10:
		c += 0.2
	case n >= 5:
		c += 0.1
	default:
		c -= 0.1
	}
	switch {
	case cv < 0.3:
		c += 0.2
	case cv < 0.6:
		c += 0.1
	default:
		c -= 0.1
	}
	return math.Min(maxConfidence, math.Max(minConfidence, c))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
