package kpi

import "reportinsight/internal/db"

// Weights scale the three terms of the KPI formula.
type Weights struct {
	Approved  float64
	Duplicate float64
	Rejected  float64
}

func DefaultWeights() Weights {
	return Weights{Approved: 1, Duplicate: 1, Rejected: 1}
}

// Score computes
//
//	wA·(approved/total)·total·diversity − wD·duplicates − wR·(rejected/total)·total
//
// An author without reports scores 0. Negative scores are valid.
func Score(m *db.UserMetrics, w Weights) float64 {
	if m == nil || m.TotalReports == 0 {
		return 0
	}
	total := float64(m.TotalReports)
	approvedRatio := float64(m.ApprovedCount) / total
	rejectedRatio := float64(m.RejectedCount) / total
	diversity := float64(m.TypeDiversity())

	return w.Approved*approvedRatio*total*diversity -
		w.Duplicate*float64(m.DuplicateCount) -
		w.Rejected*rejectedRatio*total
}
