package transport

import (
	"slices"
	"testing"
)

func TestNegotiateFirstAttemptPrefersWebSocket(t *testing.T) {
	got := Negotiate(1, FullDuplex())
	want := []Kind{KindWebSocket, KindPolling}
	if !slices.Equal(got, want) {
		t.Fatalf("Negotiate(1, full duplex) = %v, want %v", got, want)
	}
}

func TestNegotiateLaterAttemptsDowngrade(t *testing.T) {
	for attempt := 2; attempt <= 5; attempt++ {
		got := Negotiate(attempt, FullDuplex())
		if !slices.Equal(got, []Kind{KindPolling}) {
			t.Fatalf("Negotiate(%d) = %v, want [polling]", attempt, got)
		}
	}
}

func TestNegotiateUnreliableRuntime(t *testing.T) {
	for _, caps := range []Capabilities{
		PollingOnly("forced"),
		{Family: FamilyProxied},
		{Family: FamilyTunnel},
	} {
		got := Negotiate(1, caps)
		if !slices.Equal(got, []Kind{KindPolling}) {
			t.Fatalf("Negotiate(1, %s) = %v, want [polling]", caps.Family, got)
		}
	}
}

func TestNegotiateIsPure(t *testing.T) {
	caps := FullDuplex()
	first := Negotiate(1, caps)
	for i := 0; i < 10; i++ {
		if got := Negotiate(1, caps); !slices.Equal(got, first) {
			t.Fatalf("call %d returned %v, want %v", i, got, first)
		}
	}
}

func TestPolicyFunc(t *testing.T) {
	var p Policy = PolicyFunc(func(int, Capabilities) []Kind { return []Kind{KindWebSocket} })
	if got := p.Order(3, PollingOnly("x")); !slices.Equal(got, []Kind{KindWebSocket}) {
		t.Fatalf("Order() = %v", got)
	}
}
