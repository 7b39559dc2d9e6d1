package bcma

import (
	"sync"
	"testing"
	"time"
)

type tokenCollector struct {
	mu     sync.Mutex
	tokens []string
}

func (c *tokenCollector) emit(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
}

func (c *tokenCollector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

func typeString(b *ScanBuffer, s string) {
	for _, ch := range s {
		b.KeyPress(ch)
	}
}

func TestScanBuffer_EmitsOnEnter(t *testing.T) {
	var c tokenCollector
	b := NewScanBuffer(time.Minute, c.emit)

	typeString(b, "PT-12345")
	b.KeyPress('\n')

	got := c.all()
	if len(got) != 1 || got[0] != "PT-12345" {
		t.Fatalf("expected [PT-12345], got %v", got)
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after emit, got %d chars", b.Len())
	}
}

func TestScanBuffer_CarriageReturnTerminator(t *testing.T) {
	var c tokenCollector
	b := NewScanBuffer(time.Minute, c.emit)

	typeString(b, "MED-99")
	b.KeyPress('\r')

	got := c.all()
	if len(got) != 1 || got[0] != "MED-99" {
		t.Fatalf("expected [MED-99], got %v", got)
	}
}

func TestScanBuffer_ShortBufferDiscarded(t *testing.T) {
	var c tokenCollector
	b := NewScanBuffer(time.Minute, c.emit)

	typeString(b, "abc") // exactly the minimum, not above it
	b.KeyPress('\n')

	if got := c.all(); len(got) != 0 {
		t.Fatalf("expected accidental keystrokes discarded, got %v", got)
	}
	if b.Len() != 0 {
		t.Error("expected buffer cleared after discarded Enter")
	}
}

func TestScanBuffer_IdleFlushClearsBuffer(t *testing.T) {
	var c tokenCollector
	b := NewScanBuffer(20*time.Millisecond, c.emit)

	typeString(b, "PT-123")
	time.Sleep(60 * time.Millisecond)

	if b.Len() != 0 {
		t.Errorf("expected idle flush to clear buffer, got %d chars", b.Len())
	}
	if got := c.all(); len(got) != 0 {
		t.Errorf("idle flush must not emit, got %v", got)
	}

	// Characters after the flush start a fresh token.
	typeString(b, "PT-45678")
	b.KeyPress('\n')
	got := c.all()
	if len(got) != 1 || got[0] != "PT-45678" {
		t.Fatalf("expected [PT-45678], got %v", got)
	}
}

func TestScanBuffer_TimerRearmedPerKeystroke(t *testing.T) {
	var c tokenCollector
	b := NewScanBuffer(40*time.Millisecond, c.emit)

	// Keystrokes arriving faster than the idle window keep the buffer.
	for _, ch := range "PT-777" {
		b.KeyPress(ch)
		time.Sleep(5 * time.Millisecond)
	}
	b.KeyPress('\n')

	got := c.all()
	if len(got) != 1 || got[0] != "PT-777" {
		t.Fatalf("expected [PT-777], got %v", got)
	}
}

func TestScanBuffer_CloseStopsTimerAndInput(t *testing.T) {
	var c tokenCollector
	b := NewScanBuffer(20*time.Millisecond, c.emit)

	typeString(b, "PT-123")
	b.Close()

	if b.Len() != 0 {
		t.Error("expected Close to discard buffered characters")
	}

	// Keystrokes after Close are ignored.
	typeString(b, "PT-45678")
	b.KeyPress('\n')
	if got := c.all(); len(got) != 0 {
		t.Errorf("expected no emissions after Close, got %v", got)
	}
}

func TestScanBuffer_DefaultIdleWindow(t *testing.T) {
	b := NewScanBuffer(0, func(string) {})
	if b.idle != DefaultIdleFlush {
		t.Errorf("expected default idle window %v, got %v", DefaultIdleFlush, b.idle)
	}
}
