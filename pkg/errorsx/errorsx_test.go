package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonSTTConnect)
	if Reason(err) != ReasonSTTConnect {
		t.Fatalf("expected reason %s, got %s", ReasonSTTConnect, Reason(err))
	}
	if !HasReason(err, ReasonSTTConnect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTSend)
	second := Wrap(first, ReasonSTTRemote)
	if Reason(second) != ReasonSTTSend {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestNewCarriesReason(t *testing.T) {
	err := New("socket already closed", ReasonSTTClosed)
	if Reason(err) != ReasonSTTClosed {
		t.Fatalf("expected reason %s, got %s", ReasonSTTClosed, Reason(err))
	}
	if err.Error() != "socket already closed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
