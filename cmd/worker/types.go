package main

// ReapSummary is the worker's Lambda response for one scheduled run.
type ReapSummary struct {
	Cutoff  int64 `json:"cutoff"` // epoch seconds; records created before it were eligible
	Scanned int   `json:"scanned"`
	Reaped  int   `json:"reaped"`
	Skipped int   `json:"skipped"`
}
