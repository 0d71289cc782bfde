package kpi

import "reportinsight/internal/db"

// Roles with a fixed meaning in the quota policy.
const (
	RoleTrafer = "trafer"
	RoleNovice = "novice"
	RoleLead   = "lead"
	RoleStar   = "star"
)

// ValidRole reports whether role may be assigned. The empty role clears
// the tag.
func ValidRole(role string) bool {
	switch role {
	case "", RoleTrafer, RoleNovice, RoleLead, RoleStar:
		return true
	}
	return false
}

// Quota is a minimum approved-conversion target for one role. PerDay
// compares the daily average over the window instead of the window total.
type Quota struct {
	Conversion string  `json:"conversion"`
	Min        float64 `json:"min"`
	PerDay     bool    `json:"per_day"`
}

// Policy maps roles to quotas. Roles absent from the map have no quota.
type Policy map[string]Quota

func DefaultPolicy() Policy {
	return Policy{
		RoleTrafer: {Conversion: "leads", Min: 10},
		RoleNovice: {Conversion: "accounts", Min: 5, PerDay: true},
	}
}

// QuotaStatus is the outcome of checking one author against the policy.
type QuotaStatus struct {
	Role   string `json:"role"`
	Window Window `json:"window"`
	// Exempt is true when the role carries no quota.
	Exempt bool `json:"exempt"`

	Quota  *Quota  `json:"quota,omitempty"`
	Actual float64 `json:"actual"`
	Met    bool    `json:"met"`
}

// Check evaluates conversions, the author's approved sums over w, against
// the quota for role. It reads only; stored metrics are never touched.
func (p Policy) Check(role string, w Window, conversions db.Counts) QuotaStatus {
	q, ok := p[role]
	if !ok {
		return QuotaStatus{Role: role, Window: w, Exempt: true, Met: true}
	}

	actual := float64(conversions[q.Conversion])
	if q.PerDay {
		if n := w.Len(); n > 0 {
			actual /= float64(n)
		}
	}
	return QuotaStatus{
		Role:   role,
		Window: w,
		Quota:  &q,
		Actual: actual,
		Met:    actual >= q.Min,
	}
}
