package engine

import (
	"time"

	"github.com/scourhq/scour/internal/claims"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/telemetry"
)

// Answer is the best claim found for one primary question, with its full
// provenance. Phrasing answers in natural language is the host
// application's job; these are structured records only.
type Answer struct {
	QuestionID     string            `json:"question_id"`
	Question       string            `json:"question"`
	Category       research.Category `json:"category"`
	Answer         string            `json:"answer"`
	Value          research.Value    `json:"value"`
	Level          claims.Level      `json:"level"`
	Score          float64           `json:"score"`
	Satisfied      bool              `json:"satisfied"`
	Corroborations int               `json:"corroborations"`
	Contradictions int               `json:"contradictions"`
	Sources        []claims.Source   `json:"sources"`
}

// Report is the structured outcome of one run.
type Report struct {
	Session        string                 `json:"session"`
	PlanID         string                 `json:"plan_id"`
	ObjectiveID    string                 `json:"objective_id"`
	Objective      string                 `json:"objective"`
	Mode           research.Mode          `json:"mode"`
	GeneratedAt    time.Time              `json:"generated_at"`
	Stop           research.StopCondition `json:"stop"`
	Overall        float64                `json:"overall_confidence"`
	Answers        []Answer               `json:"answers"`
	Unanswered     []string               `json:"unanswered,omitempty"`
	PagesVisited   int                    `json:"pages_visited"`
	ClaimsFound    int                    `json:"claims_found"`
	Verifications  int                    `json:"verifications"`
	Contradictions int                    `json:"contradictions"`
	Elapsed        time.Duration          `json:"elapsed"`
}

// BuildReport assembles the best answer per plan question from the claim
// graph, plus run aggregates from the progress snapshot and graph stats.
func BuildReport(plan *research.Plan, graph *claims.Graph, progress telemetry.ProgressState, stop research.StopCondition) *Report {
	report := &Report{
		Session:       progress.Session,
		PlanID:        plan.ID,
		ObjectiveID:   plan.ObjectiveID,
		Objective:     plan.Objective,
		Mode:          plan.Mode,
		GeneratedAt:   time.Now(),
		Stop:          stop,
		Overall:       graph.OverallConfidence(),
		PagesVisited:  progress.PagesVisited,
		ClaimsFound:   progress.ClaimsFound,
		Verifications: progress.Verifications,
		Elapsed:       progress.Elapsed,
	}
	report.Contradictions = graph.Stats().Contradictions

	for _, q := range plan.Questions {
		best, ok := graph.BestAnswer(q.ID)
		if !ok {
			report.Unanswered = append(report.Unanswered, q.Text)
			continue
		}
		need := q.RequiredConfidence
		if need <= 0 {
			need = plan.ConfidenceThreshold
		}
		report.Answers = append(report.Answers, Answer{
			QuestionID:     q.ID,
			Question:       q.Text,
			Category:       q.Category,
			Answer:         best.Text,
			Value:          best.Value,
			Level:          best.Level,
			Score:          best.Score,
			Satisfied:      best.Score >= need,
			Corroborations: best.Corroborations,
			Contradictions: best.Contradictions,
			Sources:        best.Sources,
		})
	}
	return report
}
