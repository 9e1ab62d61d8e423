package score

import (
	"fmt"
	"slices"

	"github.com/ppiankov/annorepair/internal/model"
)

// Weights of the duplicate selection score. They are heuristic, not policy.
type Weights struct {
	Recency float64 // per 1e6 ms of modified (or created) time
	Body    float64 // per body
	Purpose float64 // per distinct body purpose
	Target  float64 // per target
}

// DefaultWeights returns the weights used when none are configured
func DefaultWeights() Weights {
	return Weights{Recency: 1, Body: 10, Purpose: 5, Target: 1}
}

// WeightsFromConfig reads the weights from the application config
func WeightsFromConfig(cfg model.ScoringConfig) Weights {
	return Weights{
		Recency: cfg.RecencyWeight,
		Body:    cfg.BodyWeight,
		Purpose: cfg.PurposeWeight,
		Target:  cfg.TargetWeight,
	}
}

// Scorer ranks members of a duplicate group
type Scorer struct {
	weights Weights
}

// NewScorer creates a new scorer
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

// Calculate scores one annotation and explains every component
func (s *Scorer) Calculate(a *model.Annotation) model.Score {
	var signals []model.Signal

	// 1. Recency
	signals = append(signals, s.recency(a))

	// 2. Body count
	bodies := len(a.Body)
	signals = append(signals, model.Signal{
		Type:        model.SignalBodyCount,
		Description: fmt.Sprintf("%d bodies", bodies),
		Value:       float64(bodies) * s.weights.Body,
		Data: map[string]any{
			"bodies":  bodies,
			"weight":  s.weights.Body,
			"formula": "body_count * body_weight",
		},
	})

	// 3. Purpose diversity
	purposes := distinctPurposes(a)
	signals = append(signals, model.Signal{
		Type:        model.SignalPurposeDiversity,
		Description: fmt.Sprintf("%d distinct purposes", len(purposes)),
		Value:       float64(len(purposes)) * s.weights.Purpose,
		Data: map[string]any{
			"purposes": purposes,
			"weight":   s.weights.Purpose,
			"formula":  "distinct_purposes * purpose_weight",
		},
	})

	// 4. Target count
	targets := len(a.Target.Refs)
	signals = append(signals, model.Signal{
		Type:        model.SignalTargetCount,
		Description: fmt.Sprintf("%d targets", targets),
		Value:       float64(targets) * s.weights.Target,
		Data: map[string]any{
			"targets": targets,
			"weight":  s.weights.Target,
			"formula": "target_count * target_weight",
		},
	})

	total := 0.0
	for _, sig := range signals {
		total += sig.Value
	}
	return model.Score{ID: a.ID, Total: total, Signals: signals}
}

func (s *Scorer) recency(a *model.Annotation) model.Signal {
	stamp, field := a.Modified, "modified"
	if stamp == "" {
		stamp, field = a.Created, "created"
	}
	ts, ok := model.ParseTime(stamp)
	if !ok {
		return model.Signal{
			Type:        model.SignalRecency,
			Description: "No usable timestamp",
			Data:        map[string]any{"timestamp": stamp},
		}
	}

	units := float64(ts.UnixMilli()) / 1e6
	return model.Signal{
		Type:        model.SignalRecency,
		Description: fmt.Sprintf("%s %s", field, model.FormatTime(ts)),
		Value:       units * s.weights.Recency,
		Data: map[string]any{
			"field":   field,
			"unix_ms": ts.UnixMilli(),
			"weight":  s.weights.Recency,
			"formula": "unix_ms / 1e6 * recency_weight",
		},
	}
}

func distinctPurposes(a *model.Annotation) []string {
	var purposes []string
	for _, b := range a.Body {
		if p := b.BodyPurpose(); p != "" && !slices.Contains(purposes, p) {
			purposes = append(purposes, p)
		}
	}
	return purposes
}

// Compare orders scores best first: higher total wins, ties go to the smaller ID,
// so the choice is the same on every run
func Compare(a, b model.Score) int {
	switch {
	case a.Total > b.Total:
		return -1
	case a.Total < b.Total:
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Rank scores every member and returns the scores best first
func (s *Scorer) Rank(group []*model.Annotation) []model.Score {
	scores := make([]model.Score, len(group))
	for i, a := range group {
		scores[i] = s.Calculate(a)
	}
	slices.SortFunc(scores, Compare)
	return scores
}
