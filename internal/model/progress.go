package model

// ProgressSnapshot is the convergent view of classification progress for
// one tracked batch. Invariant: Completed == Tagged+Untagged and Completed <= Total.
type ProgressSnapshot struct {
	BatchID          string `json:"batchId"`
	Total            int    `json:"total"`
	Completed        int    `json:"completed"`
	Tagged           int    `json:"tagged"`
	Untagged         int    `json:"untagged"`
	IsComplete       bool   `json:"isComplete"`
	EstimatedSeconds int    `json:"estimatedSeconds"`
}
