package state

import "math"

// Summary is the display view of a campaign.
type Summary struct {
	Status      Status `json:"status"`
	Progress    int    `json:"progress"`
	SuccessRate int    `json:"successRate"`
	FailureRate int    `json:"failureRate"`
	IsComplete  bool   `json:"isComplete"`
	IsTerminal  bool   `json:"isTerminal"`
	CanResume   bool   `json:"canResume"`
}

// Summarize computes the display summary of s from its derived status.
// Rates are whole percentages; success and failure rates are relative to
// processed recipients.
func Summarize(s BroadcastState) Summary {
	derived := Derive(s)
	return Summary{
		Status:      derived,
		Progress:    percent(s.Processed, s.Total),
		SuccessRate: percent(s.Completed, s.Processed),
		FailureRate: percent(s.Failed, s.Processed),
		IsComplete:  s.Processed == s.Total,
		IsTerminal:  derived.IsTerminal(),
		CanResume:   derived == StatusPaused,
	}
}

func percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}
