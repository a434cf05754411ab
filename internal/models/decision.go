package models

// Action is the final instruction an ensemble decision can carry.
type Action string

const (
	ActionBuyUp   Action = "buy_up"
	ActionBuyDown Action = "buy_down"
	ActionBuyBoth Action = "buy_both"
	ActionSkip    Action = "skip"
)

// ActionSide maps a buy action onto the market side it trades.
// Skip has no side.
func ActionSide(a Action) (Side, bool) {
	switch a {
	case ActionBuyUp:
		return SideUp, true
	case ActionBuyDown:
		return SideDown, true
	case ActionBuyBoth:
		return SideBoth, true
	}
	return "", false
}

// Vote is a single scorer's opinion: an action, a confidence in [0,100],
// and a short rationale.
type Vote struct {
	Scorer     string  `json:"scorer"`
	Weight     float64 `json:"weight"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// EnsembleDecision is the consensus outcome across scorers. Consensus is
// the weight-normalized agreement on the winning action, in [0,1]; an
// action other than skip requires consensus at or above the configured
// threshold.
type EnsembleDecision struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Consensus  float64 `json:"consensus"`
	Votes      []Vote  `json:"votes"`
	Reasoning  string  `json:"reasoning"`
}
