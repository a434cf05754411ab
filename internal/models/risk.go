package models

import "time"

// RiskState holds the process-lifetime counters the risk manager checks
// before every entry. It is passed and returned through evaluate calls
// rather than living as ambient global state, so tests can inject values.
type RiskState struct {
	ConsecutiveLosses int       `json:"consecutive_losses"`
	ConsecutiveWins   int       `json:"consecutive_wins"`
	Wins              int       `json:"wins"`
	Losses            int       `json:"losses"`
	RealizedLossToday float64   `json:"realized_loss_today"`
	CommittedCapital  float64   `json:"committed_capital"`
	DayStart          time.Time `json:"day_start"`
}

// WinRate returns the realized win fraction, or 0.5 when there is not
// enough history to mean anything.
func (s *RiskState) WinRate() float64 {
	total := s.Wins + s.Losses
	if total < 5 {
		return 0.5
	}
	return float64(s.Wins) / float64(total)
}

// Streak is positive for consecutive wins, negative for consecutive
// losses, zero when flat.
func (s *RiskState) Streak() int {
	if s.ConsecutiveLosses > 0 {
		return -s.ConsecutiveLosses
	}
	return s.ConsecutiveWins
}
