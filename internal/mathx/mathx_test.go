package mathx

import "testing"

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 3); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := Clamp(-1.5, 0.0, 1.0); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
	if got := Clamp01(0.25); got != 0.25 {
		t.Fatalf("expected 0.25, got %f", got)
	}
}

func TestLerp(t *testing.T) {
	if got := Lerp(0.2, 1.0, 0.5); got < 0.5999 || got > 0.6001 {
		t.Fatalf("expected 0.6, got %f", got)
	}
}
