package gsmppp

import (
	"testing"
	"time"
)

func TestGuard(t *testing.T) {
	g := newGuard()
	if !g.tryLock(time.Millisecond) {
		t.Fatal("tryLock() on a free guard failed")
	}
	if !g.held() {
		t.Error("held() = false with the guard taken")
	}

	start := time.Now()
	if g.tryLock(20 * time.Millisecond) {
		t.Fatal("tryLock() on a held guard succeeded")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("tryLock() gave up before the timeout")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		g.unlock()
	}()
	if !g.tryLock(time.Second) {
		t.Fatal("tryLock() did not get the released guard")
	}
	g.unlock()
	if g.held() {
		t.Error("held() = true after unlock")
	}
}

func TestGuard_UnlockUnlocked(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("unlock of an unlocked guard did not panic")
		}
	}()
	newGuard().unlock()
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusFirstInit, "FirstInit"},
		{StatusIdle, "Idle"},
		{StatusConnecting, "Connecting"},
		{StatusConnected, "Connected"},
		{StatusDisconnected, "Disconnected"},
		{StatusUnknown, "Unknown"},
		{Status(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.expected)
		}
		if tt.status < StatusUnknown && parseStatus(tt.expected) != tt.status {
			t.Errorf("parseStatus(%q) = %v", tt.expected, parseStatus(tt.expected))
		}
	}
}

func TestLinkCode(t *testing.T) {
	down := map[LinkCode]bool{
		LinkUp: false, LinkParam: false, LinkOpen: false, LinkDevice: false,
		LinkAlloc: false, LinkUser: true, LinkConnectLost: true, LinkAuthFail: true,
		LinkProtocol: true, LinkPeerDead: true, LinkIdleTimeout: true,
		LinkConnectTime: true, LinkLoopback: false,
	}
	for code, want := range down {
		if code.Down() != want {
			t.Errorf("%v.Down() = %v, want %v", code, code.Down(), want)
		}
		if code.String() == "unknown" {
			t.Errorf("LinkCode(%d) has no name", code)
		}
	}
	if LinkCode(100).String() != "unknown" {
		t.Errorf("LinkCode(100).String() = %q", LinkCode(100).String())
	}
}
