package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// ─── Job State Machine ──────────────────────────────────────────────────────

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobPending, JobRunning, true},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobPending, false},
		{JobCompleted, JobRunning, false},
		{JobCompleted, JobFailed, false},
		{JobFailed, JobCompleted, false},
		{JobFailed, JobRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.ok {
				t.Errorf("CanTransition() = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestJob_Duration(t *testing.T) {
	start := time.Now()
	job := Job{StartTime: start, EndTime: start.Add(90 * time.Second)}
	if d := job.Duration(); d != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", d)
	}

	running := Job{StartTime: start}
	if d := running.Duration(); d != 0 {
		t.Errorf("Duration() of running job = %v, want 0", d)
	}
}

// ─── Node Liveness ──────────────────────────────────────────────────────────

func TestNode_IsOnline(t *testing.T) {
	now := time.Now()
	ttl := 2 * time.Minute

	never := Node{}
	if never.IsOnline(now, ttl) {
		t.Error("node without heartbeat should be offline")
	}

	fresh := Node{LastHeartbeat: now.Add(-30 * time.Second)}
	if !fresh.IsOnline(now, ttl) {
		t.Error("node with recent heartbeat should be online")
	}

	stale := Node{LastHeartbeat: now.Add(-3 * time.Minute)}
	if stale.IsOnline(now, ttl) {
		t.Error("node past liveness TTL should be offline")
	}
}

// ─── Money ──────────────────────────────────────────────────────────────────

func TestAmount_String(t *testing.T) {
	tests := []struct {
		in   Amount
		want string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{1000, "10.00"},
		{1050, "10.50"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("Amount(%d).String() = %q, want %q", int64(tt.in), got, tt.want)
		}
	}
}

func TestEntryKind_Signed(t *testing.T) {
	if got := EntryCredit.Signed(40); got != 40 {
		t.Errorf("credit signed = %d, want 40", got)
	}
	if got := EntryDebit.Signed(40); got != -40 {
		t.Errorf("debit signed = %d, want -40", got)
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func TestIsDomainError(t *testing.T) {
	wrapped := fmt.Errorf("submit job 7: %w", ErrInsufficientFunds)
	if !IsDomainError(wrapped) {
		t.Error("wrapped sentinel should be a domain error")
	}
	if IsDomainError(errors.New("database is locked")) {
		t.Error("raw storage error should not be a domain error")
	}
}
