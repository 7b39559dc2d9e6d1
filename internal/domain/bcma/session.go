package bcma

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emar/emar/internal/domain/order"
	"github.com/emar/emar/internal/domain/patient"
)

// Step is the verification state machine's current state.
type Step string

const (
	StepAwaitingPatientScan    Step = "awaiting_patient_scan"
	StepAwaitingMedicationScan Step = "awaiting_medication_scan"
	StepVerifying              Step = "verifying"
	StepComplete               Step = "complete"
	StepCancelled              Step = "cancelled"
)

// Label returns a human-readable step description for UI rendering.
func (s Step) Label() string {
	switch s {
	case StepAwaitingPatientScan:
		return "Scan patient wristband"
	case StepAwaitingMedicationScan:
		return "Scan medication package"
	case StepVerifying:
		return "Verifying five rights"
	case StepComplete:
		return "Administration recorded"
	case StepCancelled:
		return "Cancelled"
	}
	return string(s)
}

// Terminal reports whether the step is a terminal state.
func (s Step) Terminal() bool {
	return s == StepComplete || s == StepCancelled
}

var (
	// ErrOverrideNotAllowed rejects the time-check override on a
	// continuous infusion, which is a hard safety boundary.
	ErrOverrideNotAllowed = errors.New("time check on a continuous infusion cannot be overridden")

	// ErrRightsUnsatisfied rejects proceed while any right is false.
	ErrRightsUnsatisfied = errors.New("five rights are not satisfied")

	// ErrSessionTerminal rejects input to a completed or cancelled session.
	ErrSessionTerminal = errors.New("session is already complete or cancelled")

	// ErrScanNotExpected rejects a scan that would replace a captured
	// token without an explicit reset.
	ErrScanNotExpected = errors.New("no scan is expected in the current step")
)

// Override is one entry in the session's override ledger. Carried
// unchanged into the final administration record for audit.
type Override struct {
	Right  RightName `json:"right"`
	UserID string    `json:"user_id"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// SessionConfig tunes a verification session. Zero values fall back to
// production defaults; Clock exists for tests.
type SessionConfig struct {
	IdleFlush   time.Duration
	EarlyWindow time.Duration
	Clock       func() time.Time
	// OnChange is invoked after every state change with an event name
	// and a snapshot. Called while the session lock is held; the sink
	// must not call back into the session.
	OnChange func(event string, snap Snapshot)
}

// Session is one in-progress verification flow for a single medication
// order. Events are processed one at a time; the mutex serializes the
// HTTP handlers and the scanner gateway, which may both deliver input.
type Session struct {
	ID      uuid.UUID
	Patient *patient.Patient
	Order   *order.MedicationOrder
	UserID  string

	mu           sync.Mutex
	step         Step
	patientToken *ScanToken
	medToken     *ScanToken
	overrides    []Override
	result       FiveRightsResult
	buffer       *ScanBuffer

	idleFlush   time.Duration
	earlyWindow time.Duration
	clock       func() time.Time
	onChange    func(event string, snap Snapshot)

	CreatedAt time.Time
}

// NewSession starts a verification session in AwaitingPatientScan.
func NewSession(p *patient.Patient, o *order.MedicationOrder, userID string, cfg SessionConfig) *Session {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &Session{
		ID:          uuid.New(),
		Patient:     p,
		Order:       o,
		UserID:      userID,
		step:        StepAwaitingPatientScan,
		idleFlush:   cfg.IdleFlush,
		earlyWindow: cfg.EarlyWindow,
		clock:       cfg.Clock,
		onChange:    cfg.OnChange,
		CreatedAt:   cfg.Clock(),
	}
	s.buffer = NewScanBuffer(s.idleFlush, s.wedgeToken)
	return s
}

// Snapshot is the session's externally visible state.
type Snapshot struct {
	SessionID       uuid.UUID        `json:"session_id"`
	PatientID       uuid.UUID        `json:"patient_id"`
	OrderID         uuid.UUID        `json:"order_id"`
	Step            Step             `json:"step"`
	StepLabel       string           `json:"step_label"`
	PatientToken    *ScanToken       `json:"patient_token,omitempty"`
	MedicationToken *ScanToken       `json:"medication_token,omitempty"`
	Result          FiveRightsResult `json:"result"`
	Overrides       []Override       `json:"overrides,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Snapshot returns the current state for UI rendering. In Verifying the
// result is recomputed against the current wall clock, so a session left
// open across a timing boundary re-derives its Right Time outcome.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == StepVerifying {
		s.evaluateLocked()
	}
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:       s.ID,
		PatientID:       s.Patient.ID,
		OrderID:         s.Order.ID,
		Step:            s.step,
		StepLabel:       s.step.Label(),
		PatientToken:    s.patientToken,
		MedicationToken: s.medToken,
		Result:          s.result,
		Overrides:       append([]Override(nil), s.overrides...),
		CreatedAt:       s.CreatedAt,
	}
}

// Step returns the current state machine step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// HandleToken delivers a completed scan token from the hardware scanner
// or the wedge buffer.
func (s *Session) HandleToken(value string, source ScanSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureLocked(value, source)
}

// ManualToken accepts a user-typed token for the given step, bypassing
// the wedge buffer. The step must match the session's current capture
// step; captured tokens are replaced only by an explicit reset.
func (s *Session) ManualToken(step ScanStep, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case step == StepPatientToken && s.step == StepAwaitingPatientScan:
	case step == StepMedicationToken && s.step == StepAwaitingMedicationScan:
	default:
		if s.step.Terminal() {
			return ErrSessionTerminal
		}
		return ErrScanNotExpected
	}
	return s.captureTokenLocked(value, SourceManual)
}

// HandleKey delivers one keyboard-wedge keystroke. The buffer decides
// when a token is complete; stray keystrokes are discarded silently.
// The buffer pointer is read under the lock because Reset swaps it, but
// KeyPress runs outside so the wedge emit callback can re-enter the
// session. A keystroke that lands on a just-closed buffer is dropped.
func (s *Session) HandleKey(ch rune) {
	s.mu.Lock()
	buf := s.buffer
	s.mu.Unlock()
	buf.KeyPress(ch)
}

// wedgeToken is the buffer's emit callback.
func (s *Session) wedgeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A wedge token arriving in the wrong step is hardware noise.
	_ = s.captureLocked(token, SourceWedge)
}

func (s *Session) captureLocked(value string, source ScanSource) error {
	if s.step.Terminal() {
		return ErrSessionTerminal
	}
	if s.step == StepVerifying {
		return ErrScanNotExpected
	}
	return s.captureTokenLocked(value, source)
}

func (s *Session) captureTokenLocked(value string, source ScanSource) error {
	now := s.clock()
	switch s.step {
	case StepAwaitingPatientScan:
		s.patientToken = &ScanToken{Value: value, Step: StepPatientToken, Source: source, CapturedAt: now}
		s.step = StepAwaitingMedicationScan
		s.emitLocked("patient_scanned")
	case StepAwaitingMedicationScan:
		s.medToken = &ScanToken{Value: value, Step: StepMedicationToken, Source: source, CapturedAt: now}
		s.step = StepVerifying
		s.evaluateLocked()
		s.emitLocked("verifying")
	default:
		return ErrScanNotExpected
	}
	return nil
}

// RequestOverride forces a currently false right to true, recording the
// acting user in the ledger. Overriding an already-true right is a
// no-op. The time check on a continuous infusion can never be overridden.
func (s *Session) RequestOverride(right RightName, userID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step.Terminal() {
		return ErrSessionTerminal
	}
	if s.step != StepVerifying {
		return ErrScanNotExpected
	}
	if !right.Valid() {
		return fmt.Errorf("unknown right: %s", right)
	}
	if right == RightTime && s.Order.IsContinuous() {
		return ErrOverrideNotAllowed
	}

	s.evaluateLocked()
	if s.result.Right(right) {
		return nil
	}

	s.overrides = append(s.overrides, Override{
		Right:  right,
		UserID: userID,
		Reason: reason,
		At:     s.clock(),
	})
	s.evaluateLocked()
	s.emitLocked("override_recorded")
	return nil
}

// PersistFunc writes the administration record exactly once.
type PersistFunc func(ctx context.Context, rec *AdministrationRecord) error

// Proceed attempts to finish the flow. Permitted only in Verifying and
// only when every right holds at the moment of the call. A persistence
// error is returned verbatim and the machine stays in Verifying so the
// user can retry; nothing is retried automatically.
func (s *Session) Proceed(ctx context.Context, notes string, persist PersistFunc) (*AdministrationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step.Terminal() {
		return nil, ErrSessionTerminal
	}
	if s.step != StepVerifying {
		return nil, ErrRightsUnsatisfied
	}

	s.evaluateLocked()
	if !s.result.AllSatisfied() {
		return nil, ErrRightsUnsatisfied
	}

	rec := s.buildRecordLocked(notes)
	if err := persist(ctx, rec); err != nil {
		return nil, err
	}

	s.step = StepComplete
	s.buffer.Close()
	s.emitLocked("complete")
	return rec, nil
}

// Cancel discards the session unconditionally. Nothing has been
// persisted before Complete, so there is nothing to roll back. Already
// terminal sessions are left untouched.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step.Terminal() {
		return
	}
	s.step = StepCancelled
	s.buffer.Close()
	s.emitLocked("cancelled")
}

// Reset returns a non-terminal session to AwaitingPatientScan, clearing
// tokens, overrides and the wedge buffer. The old buffer is closed so a
// stale idle flush cannot fire into the fresh state.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step.Terminal() {
		return ErrSessionTerminal
	}

	s.buffer.Close()
	s.buffer = NewScanBuffer(s.idleFlush, s.wedgeToken)
	s.patientToken = nil
	s.medToken = nil
	s.overrides = nil
	s.result = FiveRightsResult{}
	s.step = StepAwaitingPatientScan
	s.emitLocked("reset")
	return nil
}

func (s *Session) evaluateLocked() {
	overridden := make([]RightName, 0, len(s.overrides))
	for _, o := range s.overrides {
		overridden = append(overridden, o.Right)
	}
	var pt, mt string
	if s.patientToken != nil {
		pt = s.patientToken.Value
	}
	if s.medToken != nil {
		mt = s.medToken.Value
	}
	s.result = EvaluateFiveRights(EvalParams{
		Patient:         s.Patient,
		Order:           s.Order,
		PatientToken:    pt,
		MedicationToken: mt,
		Overridden:      overridden,
		Now:             s.clock(),
		EarlyWindow:     s.earlyWindow,
	})
}

func (s *Session) emitLocked(event string) {
	if s.onChange != nil {
		s.onChange(event, s.snapshotLocked())
	}
}
