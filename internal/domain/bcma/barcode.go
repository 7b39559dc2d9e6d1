package bcma

import (
	"github.com/emar/emar/internal/domain/order"
	"github.com/emar/emar/internal/domain/patient"
)

// Known barcode prefix conventions. Wristband and package labels in the
// field are printed with varying prefixes; the matcher tolerates them
// without ever letting a mismatched identifier through.
var (
	patientPrefixes    = []string{"PT-", "PAT-"}
	medicationPrefixes = []string{"MED-", "RX-"}
)

// TokenForPatient returns the canonical token encoded on a patient
// wristband label. The same string is the comparison target for the
// manual-entry fallback.
func TokenForPatient(p *patient.Patient) string {
	return patientPrefixes[0] + p.MRN
}

// TokenForOrder returns the canonical token encoded on a medication
// package label.
func TokenForOrder(o *order.MedicationOrder) string {
	return medicationPrefixes[0] + o.ID.String()
}

// MatchesPatient reports whether a scanned token identifies the patient:
// the token must equal the MRN verbatim or the MRN behind one of the
// known prefixes. Absence of a match is false, never an error.
func MatchesPatient(token string, p *patient.Patient) bool {
	if p == nil || p.MRN == "" {
		return false
	}
	return matchesIdentifier(token, p.MRN, patientPrefixes)
}

// MatchesOrder reports whether a scanned token identifies the medication
// order, analogously to MatchesPatient.
func MatchesOrder(token string, o *order.MedicationOrder) bool {
	if o == nil {
		return false
	}
	return matchesIdentifier(token, o.ID.String(), medicationPrefixes)
}

func matchesIdentifier(token, id string, prefixes []string) bool {
	if token == "" || id == "" {
		return false
	}
	if token == id {
		return true
	}
	for _, prefix := range prefixes {
		if token == prefix+id {
			return true
		}
	}
	return false
}
