package bcma

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/emar/emar/internal/domain/order"
	"github.com/emar/emar/internal/domain/patient"
)

var (
	// ErrSessionActive enforces at most one in-progress verification
	// session per medication order.
	ErrSessionActive = errors.New("an active verification session already exists for this order")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("verification session not found")

	// ErrOrderNotFound is returned when the order id resolves to no row.
	ErrOrderNotFound = errors.New("medication order not found")

	// ErrOrderInactive rejects verification against a discontinued,
	// completed, or held order.
	ErrOrderInactive = errors.New("medication order is not active")
)

// PatientFetcher reads patient records. The engine never writes them.
type PatientFetcher interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// OrderStore reads orders and stamps dosing history after completion.
type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*order.MedicationOrder, error)
	RecordAdministered(ctx context.Context, id uuid.UUID, administeredAt time.Time, nextDue *time.Time) error
}

// EventSink receives session state changes for push delivery to
// attached scanner stations.
type EventSink interface {
	SessionEvent(sessionID, eventType string, payload interface{})
}

// ServiceConfig tunes session behavior. Zero values use defaults.
type ServiceConfig struct {
	IdleFlush   time.Duration
	EarlyWindow time.Duration
	Clock       func() time.Time
}

// Service owns the in-memory verification sessions and orchestrates
// them against the patient, order, and administration collaborators.
type Service struct {
	patients PatientFetcher
	orders   OrderStore
	admins   AdministrationRepository
	log      zerolog.Logger

	// The sink gets its own lock: emits run while a session lock is
	// held, and taking s.mu there would invert the s.mu -> session.mu
	// order StartSession establishes.
	eventsMu sync.RWMutex
	events   EventSink

	idleFlush   time.Duration
	earlyWindow time.Duration
	clock       func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	byOrder  map[uuid.UUID]uuid.UUID // order id -> active session id
}

func NewService(patients PatientFetcher, orders OrderStore, admins AdministrationRepository,
	events EventSink, log zerolog.Logger, cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		patients:    patients,
		orders:      orders,
		admins:      admins,
		events:      events,
		log:         log,
		idleFlush:   cfg.IdleFlush,
		earlyWindow: cfg.EarlyWindow,
		clock:       cfg.Clock,
		sessions:    make(map[uuid.UUID]*Session),
		byOrder:     make(map[uuid.UUID]uuid.UUID),
	}
}

// StartSession begins a verification flow for an order. At most one
// non-terminal session may exist per order at a time.
func (s *Service) StartSession(ctx context.Context, orderID uuid.UUID, userID string) (*Session, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		// A missing row is the caller's mistake; anything else is the
		// database's and surfaces as a storage failure.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	if o.Status != order.StatusActive {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderInactive)
	}
	p, err := s.patients.GetPatient(ctx, o.PatientID)
	if err != nil {
		return nil, fmt.Errorf("fetch patient: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sid, ok := s.byOrder[orderID]; ok {
		if existing, found := s.sessions[sid]; found && !existing.Step().Terminal() {
			return nil, ErrSessionActive
		}
	}

	session := NewSession(p, o, userID, SessionConfig{
		IdleFlush:   s.idleFlush,
		EarlyWindow: s.earlyWindow,
		Clock:       s.clock,
		OnChange:    s.onSessionChange,
	})
	s.sessions[session.ID] = session
	s.byOrder[orderID] = session.ID

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("order_id", orderID.String()).
		Str("user_id", userID).
		Msg("verification session started")
	return session, nil
}

// SetEventSink attaches the push-delivery sink. The scanner gateway
// routes input through this service, so the two are wired together
// after both exist.
func (s *Service) SetEventSink(events EventSink) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = events
}

func (s *Service) onSessionChange(event string, snap Snapshot) {
	s.eventsMu.RLock()
	events := s.events
	s.eventsMu.RUnlock()
	if events != nil {
		events.SessionEvent(snap.SessionID.String(), event, snap)
	}
}

// GetSession returns a session by id.
func (s *Service) GetSession(id uuid.UUID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Scan delivers a completed token from the hardware scanner.
func (s *Service) Scan(ctx context.Context, sessionID uuid.UUID, token string, source ScanSource) (Snapshot, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := session.HandleToken(token, source); err != nil {
		return Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// ManualToken accepts a typed fallback token for the given step.
func (s *Service) ManualToken(ctx context.Context, sessionID uuid.UUID, step ScanStep, token string) (Snapshot, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := session.ManualToken(step, token); err != nil {
		return Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// Override forces a failed right to true with accountability.
func (s *Service) Override(ctx context.Context, sessionID uuid.UUID, right RightName, userID, reason string) (Snapshot, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := session.RequestOverride(right, userID, reason); err != nil {
		return Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// Proceed completes the session: the record is persisted exactly once,
// then the order's dosing history is stamped. A persistence failure
// leaves the session in Verifying for the user to retry.
func (s *Service) Proceed(ctx context.Context, sessionID uuid.UUID, notes string) (*AdministrationRecord, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	rec, err := session.Proceed(ctx, notes, s.admins.Create)
	if err != nil {
		return nil, err
	}

	nextDue := nextDueAfter(session.Order, rec.AdministeredAt)
	if err := s.orders.RecordAdministered(ctx, rec.OrderID, rec.AdministeredAt, nextDue); err != nil {
		// The record itself is already durable; the schedule stamp is
		// reconcilable from the administration history.
		s.log.Warn().Err(err).
			Str("order_id", rec.OrderID.String()).
			Msg("failed to stamp order dosing history")
	}

	s.release(session)

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("record_id", rec.ID.String()).
		Int("overrides", len(rec.Overrides)).
		Msg("administration recorded")
	return rec, nil
}

// ResetSession returns a session to its initial step, clearing all
// captured state without persisting anything.
func (s *Service) ResetSession(sessionID uuid.UUID) (Snapshot, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := session.Reset(); err != nil {
		return Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// CancelSession discards a session unconditionally.
func (s *Service) CancelSession(sessionID uuid.UUID) error {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	session.Cancel()
	s.release(session)
	return nil
}

// release drops a terminal session from the in-memory indexes.
func (s *Service) release(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session.ID)
	if sid, ok := s.byOrder[session.Order.ID]; ok && sid == session.ID {
		delete(s.byOrder, session.Order.ID)
	}
}

// nextDueAfter advances a scheduled order's due time by the nominal
// dosing period. PRN orders have no schedule to advance.
func nextDueAfter(o *order.MedicationOrder, administeredAt time.Time) *time.Time {
	if o.NextDue == nil {
		return nil
	}
	next := administeredAt.Add(NominalPeriod(o.Frequency))
	return &next
}

// ListAdministrations returns recorded administrations, optionally
// filtered by patient or order. Records are read-only audit history.
func (s *Service) ListAdministrations(ctx context.Context, patientID, orderID *uuid.UUID, limit, offset int) ([]*AdministrationRecord, int, error) {
	switch {
	case patientID != nil:
		return s.admins.ListByPatient(ctx, *patientID, limit, offset)
	case orderID != nil:
		return s.admins.ListByOrder(ctx, *orderID, limit, offset)
	default:
		return s.admins.List(ctx, limit, offset)
	}
}

// GetAdministration returns one record by id.
func (s *Service) GetAdministration(ctx context.Context, id uuid.UUID) (*AdministrationRecord, error) {
	return s.admins.GetByID(ctx, id)
}

// PatientLabel returns the token to encode on a patient wristband.
func (s *Service) PatientLabel(ctx context.Context, patientID uuid.UUID) (string, error) {
	p, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return "", err
	}
	return TokenForPatient(p), nil
}

// OrderLabel returns the token to encode on a medication package label.
func (s *Service) OrderLabel(ctx context.Context, orderID uuid.UUID) (string, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return TokenForOrder(o), nil
}

// -- scanner gateway routing --

// RouteScan delivers a device scan arriving over the station gateway.
func (s *Service) RouteScan(ctx context.Context, sessionID, token string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id: %s", sessionID)
	}
	_, err = s.Scan(ctx, id, token, SourceDevice)
	return err
}

// RouteKey delivers one keyboard-wedge keystroke from the gateway.
func (s *Service) RouteKey(ctx context.Context, sessionID, key string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id: %s", sessionID)
	}
	session, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	ch, _ := utf8.DecodeRuneInString(key)
	session.HandleKey(ch)
	return nil
}
