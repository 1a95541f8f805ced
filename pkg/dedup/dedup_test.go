package dedup

import (
	"testing"
	"time"
)

func TestDuplicateWithinWindowDropped(t *testing.T) {
	d := New(time.Minute, 100)
	key := Key([]byte(`{"device_id":"esp32-1","timestamp":1756464000}`))

	if !d.ShouldProcess(key) {
		t.Fatal("first delivery must be processed")
	}
	if d.ShouldProcess(key) {
		t.Fatal("redelivery inside the window must be dropped")
	}
}

func TestDifferentPayloadsProcessed(t *testing.T) {
	d := New(time.Minute, 100)
	a := Key([]byte(`{"timestamp":1}`))
	b := Key([]byte(`{"timestamp":2}`))
	if a == b {
		t.Fatal("distinct payloads must hash to distinct keys")
	}
	if !d.ShouldProcess(a) || !d.ShouldProcess(b) {
		t.Fatal("distinct payloads must both be processed")
	}
}

func TestKeySeenAgainAfterTTL(t *testing.T) {
	d := New(time.Nanosecond, 100)
	key := Key([]byte("payload"))

	if !d.ShouldProcess(key) {
		t.Fatal("first delivery must be processed")
	}
	time.Sleep(time.Millisecond)
	if !d.ShouldProcess(key) {
		t.Fatal("key must be reusable once the window has expired")
	}
}

func TestEvictionKeepsMapBounded(t *testing.T) {
	d := New(time.Nanosecond, 8)
	for i := 0; i < 100; i++ {
		d.ShouldProcess(Key([]byte{byte(i)}))
		time.Sleep(time.Microsecond)
	}
	d.mu.Lock()
	n := len(d.seen)
	d.mu.Unlock()
	if n > 9 {
		t.Fatalf("seen map grew to %d entries, want at most cap+1", n)
	}
}

func TestEmptyKeyAlwaysProcessed(t *testing.T) {
	d := New(time.Minute, 100)
	if !d.ShouldProcess("") || !d.ShouldProcess("") {
		t.Fatal("empty key must never be treated as a duplicate")
	}
}
