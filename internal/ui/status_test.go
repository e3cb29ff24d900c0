package ui

import (
	"sync"
	"testing"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusLoading, "loading"},
		{StatusStopped, "stopped"},
		{StatusPassed, "passed"},
		{StatusFailed, "failed"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestDedup_SuppressesRepeats(t *testing.T) {
	var got []Status
	sink := NewDedup(StatusFunc(func(s Status) {
		got = append(got, s)
	}))

	sink.SetStatus(StatusLoading)
	sink.SetStatus(StatusLoading)
	sink.SetStatus(StatusPassed)
	sink.SetStatus(StatusPassed)
	sink.SetStatus(StatusPassed)
	sink.SetStatus(StatusLoading)

	want := []Status{StatusLoading, StatusPassed, StatusLoading}
	if len(got) != len(want) {
		t.Fatalf("expected %d updates, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("update %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDedup_FirstValueAlwaysForwarded(t *testing.T) {
	var count int
	sink := NewDedup(StatusFunc(func(Status) { count++ }))

	// The zero value must still be forwarded the first time.
	sink.SetStatus(StatusLoading)
	if count != 1 {
		t.Errorf("expected first value forwarded, got %d calls", count)
	}
}

func TestDedup_Concurrent(t *testing.T) {
	var mu sync.Mutex
	var count int
	sink := NewDedup(StatusFunc(func(Status) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.SetStatus(StatusStopped)
		}()
	}
	wg.Wait()

	if count != 1 {
		t.Errorf("expected identical concurrent updates collapsed to 1, got %d", count)
	}
}
