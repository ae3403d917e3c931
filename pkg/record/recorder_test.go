package record

import "testing"

func TestRelativeUsClampsToZero(t *testing.T) {
	if got := relativeUs(100, 500); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestRelativeUsSubtractsOrigin(t *testing.T) {
	if got := relativeUs(1500, 500); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
}
