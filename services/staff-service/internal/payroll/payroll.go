// Package payroll computes pay records from completed work sessions.
package payroll

import (
	"math"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"

	FederalTaxRate     = 0.12
	StateTaxRate       = 0.05
	SocialSecurityRate = 0.062
	MedicareRate       = 0.0145
)

type Input struct {
	HourlyRateCents   int64
	OvertimeRateCents int64
	CommissionCents   int64
	RegularHours      float64
	OvertimeHours     float64
}

type Result struct {
	RegularHours        float64 `json:"regularHours"`
	OvertimeHours       float64 `json:"overtimeHours"`
	RegularRateCents    int64   `json:"regularRateCents"`
	OvertimeRateCents   int64   `json:"overtimeRateCents"`
	RegularPayCents     int64   `json:"regularPayCents"`
	OvertimePayCents    int64   `json:"overtimePayCents"`
	CommissionCents     int64   `json:"commissionCents"`
	GrossCents          int64   `json:"grossPayCents"`
	FederalTaxCents     int64   `json:"federalIncomeTaxCents"`
	StateTaxCents       int64   `json:"stateIncomeTaxCents"`
	SocialSecurityCents int64   `json:"socialSecurityCents"`
	MedicareCents       int64   `json:"medicareCents"`
	DeductionsCents     int64   `json:"totalDeductionsCents"`
	NetCents            int64   `json:"netPayCents"`
}

// OvertimeRate falls back to one and a half times the hourly rate.
func OvertimeRate(hourlyCents, overtimeCents int64) int64 {
	if overtimeCents > 0 {
		return overtimeCents
	}
	return int64(math.Round(float64(hourlyCents) * 1.5))
}

func Compute(in Input) Result {
	otRate := OvertimeRate(in.HourlyRateCents, in.OvertimeRateCents)
	res := Result{
		RegularHours:      in.RegularHours,
		OvertimeHours:     in.OvertimeHours,
		RegularRateCents:  in.HourlyRateCents,
		OvertimeRateCents: otRate,
		RegularPayCents:   cents(in.RegularHours * float64(in.HourlyRateCents)),
		OvertimePayCents:  cents(in.OvertimeHours * float64(otRate)),
		CommissionCents:   in.CommissionCents,
	}
	res.GrossCents = res.RegularPayCents + res.OvertimePayCents + res.CommissionCents

	gross := float64(res.GrossCents)
	res.FederalTaxCents = cents(gross * FederalTaxRate)
	res.StateTaxCents = cents(gross * StateTaxRate)
	res.SocialSecurityCents = cents(gross * SocialSecurityRate)
	res.MedicareCents = cents(gross * MedicareRate)
	res.DeductionsCents = res.FederalTaxCents + res.StateTaxCents + res.SocialSecurityCents + res.MedicareCents
	res.NetCents = res.GrossCents - res.DeductionsCents
	return res
}

func cents(v float64) int64 {
	return int64(math.Round(v))
}

// Period resolves a named reporting window to inclusive calendar dates.
// An empty name means current-month.
func Period(name string, now time.Time) (time.Time, time.Time, error) {
	y, m, _ := now.Date()
	loc := now.Location()
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	switch name {
	case "", "current-month":
		return monthStart, monthStart.AddDate(0, 1, -1), nil
	case "last-month":
		return monthStart.AddDate(0, -1, 0), monthStart.AddDate(0, 0, -1), nil
	case "last-3-months":
		return monthStart.AddDate(0, -3, 0), monthStart.AddDate(0, 1, -1), nil
	case "current-year":
		return time.Date(y, 1, 1, 0, 0, 0, 0, loc), time.Date(y, 12, 31, 0, 0, 0, 0, loc), nil
	default:
		return time.Time{}, time.Time{}, apperr.Validation("period must be one of: current-month, last-month, last-3-months, current-year")
	}
}

type Stats struct {
	TotalEmployees   int   `json:"totalEmployees"`
	TotalGrossCents  int64 `json:"totalGrossPay"`
	TotalNetCents    int64 `json:"totalNetPay"`
	PendingPayrolls  int   `json:"pendingPayrolls"`
	ApprovedPayrolls int   `json:"approvedPayrolls"`
}

// Line is the slice of a stored record that Summarize needs.
type Line struct {
	StylistID  string
	Status     string
	GrossCents int64
	NetCents   int64
}

func Summarize(lines []Line) Stats {
	var s Stats
	employees := map[string]struct{}{}
	for _, l := range lines {
		employees[l.StylistID] = struct{}{}
		s.TotalGrossCents += l.GrossCents
		s.TotalNetCents += l.NetCents
		switch l.Status {
		case StatusPending:
			s.PendingPayrolls++
		case StatusApproved:
			s.ApprovedPayrolls++
		}
	}
	s.TotalEmployees = len(employees)
	return s
}
