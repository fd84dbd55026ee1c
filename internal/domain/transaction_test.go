package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestContentHashIsStable(t *testing.T) {
	workspaceID := uuid.MustParse("7f3c32a4-9a1b-4f28-b6a7-0c6c2e2c9e11")
	date := time.Date(2026, 8, 20, 15, 30, 0, 0, time.UTC)

	first := ContentHash("tx_1", workspaceID, date)
	second := ContentHash("tx_1", workspaceID, date)
	if first != second {
		t.Fatal("expected identical inputs to hash identically")
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256 digest, got %q", first)
	}

	// Time-of-day must not affect the hash; only the calendar date counts.
	laterSameDay := time.Date(2026, 8, 20, 23, 59, 59, 0, time.UTC)
	if got := ContentHash("tx_1", workspaceID, laterSameDay); got != first {
		t.Fatal("expected hash independent of time of day")
	}
}

func TestContentHashDistinguishesInputs(t *testing.T) {
	workspaceID := uuid.New()
	date := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	base := ContentHash("tx_1", workspaceID, date)

	if got := ContentHash("tx_2", workspaceID, date); got == base {
		t.Fatal("expected different provider ids to hash differently")
	}
	if got := ContentHash("tx_1", uuid.New(), date); got == base {
		t.Fatal("expected different workspaces to hash differently")
	}
	if got := ContentHash("tx_1", workspaceID, date.AddDate(0, 0, 1)); got == base {
		t.Fatal("expected different dates to hash differently")
	}
}
