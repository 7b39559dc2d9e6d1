package bcma

import (
	"fmt"
	"time"

	"github.com/emar/emar/internal/domain/order"
	"github.com/emar/emar/internal/domain/patient"
)

// RightName identifies one of the Five Rights of medication administration.
type RightName string

const (
	RightPatient    RightName = "patient"
	RightMedication RightName = "medication"
	RightDose       RightName = "dose"
	RightRoute      RightName = "route"
	RightTime       RightName = "time"
)

// AllRights lists the five rights in canonical order.
var AllRights = []RightName{RightPatient, RightMedication, RightDose, RightRoute, RightTime}

// Valid reports whether the string names one of the five rights.
func (r RightName) Valid() bool {
	switch r {
	case RightPatient, RightMedication, RightDose, RightRoute, RightTime:
		return true
	}
	return false
}

// DefaultEarlyWindow is the grace window ahead of a scheduled dose's due
// time within which administration is permitted without an override.
const DefaultEarlyWindow = 30 * time.Minute

// defaultMinInterval applies when the order's frequency string is not in
// the lookup table.
const defaultMinInterval = 6 * time.Hour

// minIntervals maps a dosing frequency to the minimum time that must
// elapse between consecutive doses. The intervals are deliberately
// shorter than the nominal period to accommodate schedule drift.
var minIntervals = map[string]time.Duration{
	"Once daily":        20 * time.Hour,
	"Twice daily":       10 * time.Hour,
	"Three times daily": 6 * time.Hour,
	"Four times daily":  4 * time.Hour,
	"Every 4 hours":     3 * time.Hour,
	"Every 6 hours":     4 * time.Hour,
	"Every 8 hours":     6 * time.Hour,
	"Every 12 hours":    10 * time.Hour,
}

// MinInterval returns the minimum inter-dose interval for a frequency
// string, defaulting to 6 hours for unrecognized frequencies.
func MinInterval(frequency string) time.Duration {
	if d, ok := minIntervals[frequency]; ok {
		return d
	}
	return defaultMinInterval
}

// nominalPeriods maps a frequency to the nominal time between scheduled
// doses, used to advance next_due after an administration.
var nominalPeriods = map[string]time.Duration{
	"Once daily":        24 * time.Hour,
	"Twice daily":       12 * time.Hour,
	"Three times daily": 8 * time.Hour,
	"Four times daily":  6 * time.Hour,
	"Every 4 hours":     4 * time.Hour,
	"Every 6 hours":     6 * time.Hour,
	"Every 8 hours":     8 * time.Hour,
	"Every 12 hours":    12 * time.Hour,
}

// NominalPeriod returns the nominal dosing period for a frequency,
// defaulting to 6 hours for unrecognized frequencies.
func NominalPeriod(frequency string) time.Duration {
	if d, ok := nominalPeriods[frequency]; ok {
		return d
	}
	return defaultMinInterval
}

// FiveRightsResult holds the outcome of one evaluation. One field per
// right so an incomplete result is unrepresentable. A right present in
// Overridden is always true in its field regardless of what the
// underlying rule computed.
type FiveRightsResult struct {
	Patient    bool `json:"patient"`
	Medication bool `json:"medication"`
	Dose       bool `json:"dose"`
	Route      bool `json:"route"`
	Time       bool `json:"time"`

	Overridden []RightName `json:"overridden,omitempty"`
	Errors     []string    `json:"errors,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Right returns the outcome for a single named right.
func (r FiveRightsResult) Right(name RightName) bool {
	switch name {
	case RightPatient:
		return r.Patient
	case RightMedication:
		return r.Medication
	case RightDose:
		return r.Dose
	case RightRoute:
		return r.Route
	case RightTime:
		return r.Time
	}
	return false
}

// AllSatisfied reports whether every right holds, directly or via override.
func (r FiveRightsResult) AllSatisfied() bool {
	return r.Patient && r.Medication && r.Dose && r.Route && r.Time
}

// IsOverridden reports whether the named right is in the override set.
func (r FiveRightsResult) IsOverridden(name RightName) bool {
	for _, o := range r.Overridden {
		if o == name {
			return true
		}
	}
	return false
}

// EvalParams are the complete inputs to one evaluation. The result is a
// pure function of these values; nothing is retained between calls.
type EvalParams struct {
	Patient         *patient.Patient
	Order           *order.MedicationOrder
	PatientToken    string
	MedicationToken string
	Overridden      []RightName
	Now             time.Time
	// EarlyWindow overrides DefaultEarlyWindow when positive.
	EarlyWindow time.Duration
}

// EvaluateFiveRights recomputes the full FiveRightsResult from scratch.
func EvaluateFiveRights(p EvalParams) FiveRightsResult {
	window := p.EarlyWindow
	if window <= 0 {
		window = DefaultEarlyWindow
	}

	result := FiveRightsResult{Overridden: append([]RightName(nil), p.Overridden...)}

	result.Patient = MatchesPatient(p.PatientToken, p.Patient)
	if !result.Patient {
		result.Errors = append(result.Errors, "Patient barcode scan required or mismatch detected")
	}

	result.Medication = MatchesOrder(p.MedicationToken, p.Order)
	if !result.Medication {
		result.Errors = append(result.Errors, "Medication barcode scan required or mismatch detected")
	}

	// Without an independent pharmacy cross-check, a matched package
	// label is taken as confirming the dose printed on it.
	result.Dose = result.Medication
	if !result.Dose {
		result.Errors = append(result.Errors, "Dose cannot be confirmed without a matched medication scan")
	}

	result.Route = p.Order != nil && p.Order.Route != ""
	if !result.Route {
		result.Errors = append(result.Errors, "Order route is missing")
	}

	var timeErr string
	result.Time, timeErr = evaluateRightTime(p.Order, p.Now, window)
	if timeErr != "" {
		result.Errors = append(result.Errors, timeErr)
	}

	// The override set wins over every computed outcome.
	for _, name := range result.Overridden {
		switch name {
		case RightPatient:
			result.Patient = true
		case RightMedication:
			result.Medication = true
		case RightDose:
			result.Dose = true
		case RightRoute:
			result.Route = true
		case RightTime:
			result.Time = true
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("Right %s was manually overridden", name))
	}

	return result
}

// evaluateRightTime applies the timing safety rules: the minimum
// inter-dose interval guards against double-dosing regardless of
// schedule, and scheduled doses may not run more than the grace window
// ahead of their due time.
func evaluateRightTime(o *order.MedicationOrder, now time.Time, window time.Duration) (bool, string) {
	if o == nil {
		return false, "No medication order loaded"
	}

	if o.LastAdministered != nil {
		interval := MinInterval(o.Frequency)
		elapsed := now.Sub(*o.LastAdministered)
		if elapsed < interval {
			safeAt := o.LastAdministered.Add(interval)
			return false, fmt.Sprintf("Minimum interval for %q not elapsed; next safe dose at %s",
				o.Frequency, safeAt.Format("15:04"))
		}
	}

	// No schedule means PRN: the interval guard above is the only rule.
	if o.NextDue == nil {
		return true, ""
	}

	earliest := o.NextDue.Add(-window)
	if now.Before(earliest) {
		return false, fmt.Sprintf("Scheduled dose is more than %d minutes early (due %s)",
			int(window.Minutes()), o.NextDue.Format("15:04"))
	}
	return true, ""
}
