package bcma

import (
	"sync"
	"time"
)

// ScanSource identifies how a token was captured.
type ScanSource string

const (
	SourceDevice ScanSource = "device" // discrete token from scanner hardware
	SourceWedge  ScanSource = "wedge"  // assembled from keyboard-wedge keystrokes
	SourceManual ScanSource = "manual" // typed by the user as a fallback
)

// ScanStep tags which entity a token was captured for.
type ScanStep string

const (
	StepPatientToken    ScanStep = "patient"
	StepMedicationToken ScanStep = "medication"
)

// ScanToken is an opaque captured token. Immutable once captured; a new
// scan replaces it only through an explicit session reset.
type ScanToken struct {
	Value      string     `json:"value"`
	Step       ScanStep   `json:"step"`
	Source     ScanSource `json:"source"`
	CapturedAt time.Time  `json:"captured_at"`
}

// minTokenLength is the shortest plausible token; a wedge buffer at or
// below this length on Enter is treated as accidental keystrokes.
const minTokenLength = 3

// DefaultIdleFlush clears a stale wedge buffer when no keystroke arrives
// within the window. Scanner character injection is far faster than
// human typing, so a pause this long means the buffer is not scan input.
const DefaultIdleFlush = 100 * time.Millisecond

// ScanBuffer assembles keyboard-wedge keystrokes into completed tokens.
// Characters accumulate until Enter; the buffer is flushed empty if the
// idle window passes without input. Safe for concurrent use: the idle
// timer and keystroke delivery race by construction.
type ScanBuffer struct {
	mu    sync.Mutex
	buf   []rune
	idle  time.Duration
	timer *time.Timer
	emit  func(token string)
	done  bool
}

// NewScanBuffer creates a buffer that calls emit for each completed
// token. A non-positive idle window falls back to DefaultIdleFlush.
func NewScanBuffer(idle time.Duration, emit func(token string)) *ScanBuffer {
	if idle <= 0 {
		idle = DefaultIdleFlush
	}
	return &ScanBuffer{idle: idle, emit: emit}
}

// KeyPress delivers one keystroke. Enter completes the buffered sequence
// when it exceeds the minimum plausible length; shorter sequences are
// discarded silently. Any other character is appended and the idle timer
// rearmed.
func (b *ScanBuffer) KeyPress(ch rune) {
	b.mu.Lock()

	if b.done {
		b.mu.Unlock()
		return
	}

	if ch == '\r' || ch == '\n' {
		b.stopTimerLocked()
		var token string
		if len(b.buf) > minTokenLength {
			token = string(b.buf)
		}
		b.buf = nil
		b.mu.Unlock()
		// Emit outside the lock so the handler may call back in.
		if token != "" {
			b.emit(token)
		}
		return
	}

	b.buf = append(b.buf, ch)
	b.rearmTimerLocked()
	b.mu.Unlock()
}

// Len returns the number of buffered characters.
func (b *ScanBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Close cancels the idle timer and discards any buffered characters.
// Subsequent keystrokes are ignored. Must be called on session reset,
// cancel, and complete so a stale flush never fires into a new session.
func (b *ScanBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimerLocked()
	b.buf = nil
	b.done = true
}

func (b *ScanBuffer) rearmTimerLocked() {
	b.stopTimerLocked()
	b.timer = time.AfterFunc(b.idle, b.idleFlush)
}

func (b *ScanBuffer) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// idleFlush discards the buffer after the idle window: the characters
// were human typing or line noise, not a scan.
func (b *ScanBuffer) idleFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = nil
	b.timer = nil
}
