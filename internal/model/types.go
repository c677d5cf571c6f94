package model

import (
	"encoding/json"
	"time"
)

// Program is one evolved strategy variant: its source code, lineage
// position, and evaluation state.
type Program struct {
	ID         string     `json:"id"`
	Code       string     `json:"code"`
	ParentID   string     `json:"parent_id,omitempty"`
	Generation int        `json:"generation"`
	Experiment string     `json:"experiment,omitempty"`
	Evaluation Evaluation `json:"evaluation"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Root reports whether the program is a seed (no parent).
func (p Program) Root() bool {
	return p.ParentID == ""
}

// FitnessMetrics is a scalar performance snapshot produced by the backtest
// evaluator. Optional fields are nil when the evaluator did not report them.
type FitnessMetrics struct {
	SharpeRatio float64  `json:"sharpe_ratio"`
	CalmarRatio float64  `json:"calmar_ratio"`
	MaxDrawdown float64  `json:"max_drawdown"`
	CAGR        float64  `json:"cagr"`
	TotalReturn float64  `json:"total_return"`
	TradeCount  *int     `json:"trade_count,omitempty"`
	WinRate     *float64 `json:"win_rate,omitempty"`
	PSR         *float64 `json:"psr,omitempty"`
	NetSharpe   *float64 `json:"net_sharpe,omitempty"`
}

// Evaluation is the pending-or-scored state of a program. A pending program
// has no metrics at all; it is not a program with zero fitness. Construct
// values with PendingEvaluation or ScoredEvaluation so ranking code can
// never read metrics that were never set.
type Evaluation struct {
	scored  bool
	metrics FitnessMetrics
}

func PendingEvaluation() Evaluation {
	return Evaluation{}
}

func ScoredEvaluation(m FitnessMetrics) Evaluation {
	return Evaluation{scored: true, metrics: m}
}

// Scored reports whether the program has been evaluated.
func (e Evaluation) Scored() bool {
	return e.scored
}

// Metrics returns the fitness metrics and whether they are present.
func (e Evaluation) Metrics() (FitnessMetrics, bool) {
	if !e.scored {
		return FitnessMetrics{}, false
	}
	return e.metrics, true
}

type evaluationJSON struct {
	Scored  bool            `json:"scored"`
	Metrics *FitnessMetrics `json:"metrics,omitempty"`
}

func (e Evaluation) MarshalJSON() ([]byte, error) {
	out := evaluationJSON{Scored: e.scored}
	if e.scored {
		m := e.metrics
		out.Metrics = &m
	}
	return json.Marshal(out)
}

func (e *Evaluation) UnmarshalJSON(data []byte) error {
	var in evaluationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Scored || in.Metrics == nil {
		*e = Evaluation{}
		return nil
	}
	*e = Evaluation{scored: true, metrics: *in.Metrics}
	return nil
}
