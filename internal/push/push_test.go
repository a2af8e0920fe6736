package push

import (
	"testing"
	"time"
)

func TestNextBackoffFormula(t *testing.T) {
	c := New(Config{WSURL: "ws://x", MintTicket: nil, BaseBackoff: 1 * time.Second, MaxBackoff: 30 * time.Second})

	want := []time.Duration{
		1 * time.Second,  // attempt 0: base*2^0=1s, max(base,1s)=1s
		2 * time.Second,  // attempt 1: base*2^1=2s
		4 * time.Second,  // attempt 2
		8 * time.Second,  // attempt 3
		16 * time.Second, // attempt 4
		30 * time.Second, // attempt 5: base*2^5=32s capped to 30s
		30 * time.Second, // attempt 6: still capped
	}
	for i, w := range want {
		got := c.nextBackoff()
		if got != w {
			t.Errorf("attempt %d: backoff = %v, want %v", i, got, w)
		}
	}
}

func TestNextBackoffResetsOnReconnect(t *testing.T) {
	c := New(Config{WSURL: "ws://x", BaseBackoff: 1 * time.Second, MaxBackoff: 30 * time.Second})
	c.nextBackoff()
	c.nextBackoff()

	c.mu.Lock()
	c.reconnectAttempt = 0
	c.mu.Unlock()

	if got := c.nextBackoff(); got != 1*time.Second {
		t.Errorf("backoff after reset = %v, want 1s", got)
	}
}
