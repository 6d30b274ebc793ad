package estimation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"task-lifecycle-api/internal/cache"
	"task-lifecycle-api/internal/models"
	"task-lifecycle-api/internal/repository"
)

const (
	// DefaultHoursPerPoint is used when there is not enough history to fit a ratio.
	DefaultHoursPerPoint = 4.0
	// FallbackConfidence is reported for every estimate built from fewer than MinSamples tasks.
	FallbackConfidence = 0.3
	MinSamples         = 3

	sigmaFallbackRatio = 0.3
	intervalZ          = 2.0
	minConfidence      = 0.1
	maxConfidence      = 0.95
	// fallbackSpread is the relative half-width of the interval reported without history.
	fallbackSpread = 0.5
)

// ErrInvalidInput is returned for non-positive story points or window sizes.
var ErrInvalidInput = errors.New("invalid estimation input")

// HistoryReader is the read-only slice of the task repository estimation needs.
type HistoryReader interface {
	CompletedSamples(ctx context.Context, scope repository.HistoryScope) ([]repository.Sample, error)
	CompletedSince(ctx context.Context, since time.Time, assignee *string) (repository.Throughput, error)
}

// Request asks for an estimate of one task size, optionally scoped.
type Request struct {
	StoryPoints int
	Assignee    *string
	Category    models.TaskCategory
}

// Result is an estimate with its confidence and interval. All floats are rounded to 2 dp.
type Result struct {
	StoryPoints     int     `json:"storyPoints"`
	EstimatedHours  float64 `json:"estimatedHours"`
	ConfidenceLevel float64 `json:"confidenceLevel"`
	MinHours        float64 `json:"minHours"`
	MaxHours        float64 `json:"maxHours"`
	HoursPerPoint   float64 `json:"hoursPerPoint"`
	Multiplier      float64 `json:"multiplier"`
	SampleSize      int     `json:"sampleSize"`
	Message         string  `json:"message,omitempty"`
}

// Velocity is completed story points per week over a trailing window.
type Velocity struct {
	Weeks          int     `json:"weeks"`
	TasksCompleted int     `json:"tasksCompleted"`
	TotalPoints    int     `json:"totalPoints"`
	PointsPerWeek  float64 `json:"pointsPerWeek"`
}

// Ratio is the raw hours-per-point figure without the complexity multiplier.
type Ratio struct {
	SampleSize    int     `json:"sampleSize"`
	MeanHours     float64 `json:"meanHours"`
	MeanPoints    float64 `json:"meanPoints"`
	HoursPerPoint float64 `json:"hoursPerPoint"`
	Default       bool    `json:"default"`
}

// generation counts invalidations so a summary loaded before one is never cached after it.
type generation struct {
	mu sync.Mutex
	n  uint64
}

func (g *generation) current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Estimator turns completed-task history into time estimates.
type Estimator struct {
	reader HistoryReader
	cache  cache.Cache[string, Summary]
	gen    *generation
	now    func() time.Time
}

// New builds an estimator. A nil summaries cache disables memoisation; a nil now uses time.Now.
func New(reader HistoryReader, summaries cache.Cache[string, Summary], now func() time.Time) *Estimator {
	if now == nil {
		now = time.Now
	}
	return &Estimator{reader: reader, cache: summaries, gen: &generation{}, now: now}
}

// Bind returns an estimator reading through r (typically a transaction) while sharing the cache.
func (e *Estimator) Bind(r HistoryReader) *Estimator {
	return &Estimator{reader: r, cache: e.cache, gen: e.gen, now: e.now}
}

// Invalidate drops memoised summaries; called when a task enters or leaves done.
func (e *Estimator) Invalidate() {
	e.gen.mu.Lock()
	defer e.gen.mu.Unlock()
	e.gen.n++
	if e.cache != nil {
		e.cache.Clear()
	}
}

func scopeKey(scope repository.HistoryScope) string {
	assignee := "*"
	if scope.Assignee != nil {
		assignee = "u:" + *scope.Assignee
	}
	return assignee + "|" + string(scope.Category)
}

func (e *Estimator) summary(ctx context.Context, scope repository.HistoryScope) (Summary, error) {
	key := scopeKey(scope)
	if e.cache != nil {
		if s, ok := e.cache.Get(key); ok {
			return s, nil
		}
	}
	gen := e.gen.current()
	samples, err := e.reader.CompletedSamples(ctx, scope)
	if err != nil {
		return Summary{}, fmt.Errorf("load history: %w", err)
	}
	s := Summarize(samples)
	if e.cache != nil {
		e.gen.mu.Lock()
		if e.gen.n == gen {
			e.cache.Set(key, s)
		}
		e.gen.mu.Unlock()
	}
	return s, nil
}

// Predict estimates the hours a task of req.StoryPoints will take.
// Fewer than MinSamples matching completed tasks yields the default-rate fallback at confidence 0.3.
func (e *Estimator) Predict(ctx context.Context, req Request) (Result, error) {
	if req.StoryPoints <= 0 {
		return Result{}, fmt.Errorf("%w: story points must be positive", ErrInvalidInput)
	}
	s, err := e.summary(ctx, repository.HistoryScope{Assignee: req.Assignee, Category: req.Category})
	if err != nil {
		return Result{}, err
	}

	points := float64(req.StoryPoints)
	if s.N < MinSamples {
		est := points * DefaultHoursPerPoint
		return Result{
			StoryPoints:     req.StoryPoints,
			EstimatedHours:  round2(est),
			ConfidenceLevel: FallbackConfidence,
			MinHours:        round2(est * (1 - fallbackSpread)),
			MaxHours:        round2(est * (1 + fallbackSpread)),
			HoursPerPoint:   DefaultHoursPerPoint,
			Multiplier:      1.0,
			SampleSize:      s.N,
			Message:         fmt.Sprintf("insufficient history: %d completed tasks (need %d); using %.0f hours per point", s.N, MinSamples, DefaultHoursPerPoint),
		}, nil
	}

	hpp := s.MeanHours / s.MeanPoints
	mult := ComplexityMultiplier(req.StoryPoints)
	est := points * hpp * mult

	sigma := sigmaFallbackRatio * s.MeanHours
	if s.StdDev != nil {
		sigma = *s.StdDev
	}
	cv := math.Inf(1)
	if s.MeanHours > 0 {
		cv = sigma / s.MeanHours
	}

	margin := intervalZ * sigma / math.Sqrt(float64(s.N))
	return Result{
		StoryPoints:     req.StoryPoints,
		EstimatedHours:  round2(est),
		ConfidenceLevel: round2(Confidence(s.N, cv)),
		MinHours:        round2(math.Max(0, est-margin)),
		MaxHours:        round2(est + margin),
		HoursPerPoint:   round2(hpp),
		Multiplier:      mult,
		SampleSize:      s.N,
	}, nil
}

// Velocity sums story points completed in the trailing window of weeks.
func (e *Estimator) Velocity(ctx context.Context, weeks int, assignee *string) (Velocity, error) {
	if weeks <= 0 {
		return Velocity{}, fmt.Errorf("%w: weeks must be positive", ErrInvalidInput)
	}
	since := e.now().Add(-time.Duration(weeks) * 7 * 24 * time.Hour)
	tp, err := e.reader.CompletedSince(ctx, since, assignee)
	if err != nil {
		return Velocity{}, fmt.Errorf("load throughput: %w", err)
	}
	return Velocity{
		Weeks:          weeks,
		TasksCompleted: tp.Tasks,
		TotalPoints:    tp.Points,
		PointsPerWeek:  round2(float64(tp.Points) / float64(weeks)),
	}, nil
}

// HoursPerPoint reports the raw global or per-assignee ratio for diagnostics.
func (e *Estimator) HoursPerPoint(ctx context.Context, assignee *string) (Ratio, error) {
	s, err := e.summary(ctx, repository.HistoryScope{Assignee: assignee})
	if err != nil {
		return Ratio{}, err
	}
	if s.N == 0 || s.MeanPoints == 0 {
		return Ratio{HoursPerPoint: DefaultHoursPerPoint, Default: true}, nil
	}
	return Ratio{
		SampleSize:    s.N,
		MeanHours:     round2(s.MeanHours),
		MeanPoints:    round2(s.MeanPoints),
		HoursPerPoint: round2(s.MeanHours / s.MeanPoints),
	}, nil
}
