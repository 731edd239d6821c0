package domain

import "time"

// RiskLevel is the coarse classification of a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders levels from low (0) to critical (3). Unknown levels rank -1.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return -1
}

// MaxLevel returns the higher of two levels.
func MaxLevel(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// LevelForScore maps a score to a level: <=10 low, <=20 medium, <=35 high, above critical.
func LevelForScore(score int) RiskLevel {
	switch {
	case score <= 10:
		return RiskLow
	case score <= 20:
		return RiskMedium
	case score <= 35:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RiskFactor is one contribution to a risk score.
type RiskFactor struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Impact      int    `json:"impact"`
	Likelihood  int    `json:"likelihood"`
	Score       int    `json:"score"`
}

// RiskAssessment is computed fresh on every evaluation.
type RiskAssessment struct {
	SpanID      string       `json:"span_id"`
	Score       int          `json:"score"`
	Level       RiskLevel    `json:"level"`
	Factors     []RiskFactor `json:"factors"`
	Mitigations []string     `json:"mitigations"`
	AssessedAt  time.Time    `json:"assessed_at"`
}
