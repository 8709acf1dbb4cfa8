package persistence

import (
	"context"
	"fmt"
	"testing"
)

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		err    error
		expect bool
	}{
		{nil, false},
		{fmt.Errorf("some other error"), false},
		{fmt.Errorf("database is locked"), true},
		{fmt.Errorf("database table is locked"), true},
		{fmt.Errorf("SQLITE_BUSY (5)"), true},
		{fmt.Errorf("SQLITE_LOCKED (6)"), true},
		{fmt.Errorf("begin tx: database is locked"), true},
	}
	for _, tt := range tests {
		if got := isSQLiteBusy(tt.err); got != tt.expect {
			t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

func TestRetryOnBusy(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		failFirst  int
		failErr    error
		wantErr    bool
		wantCalls  int
	}{
		{name: "no error", maxRetries: 3, wantCalls: 1},
		{name: "non-busy error is not retried", maxRetries: 3, failFirst: 10, failErr: fmt.Errorf("constraint failed"), wantErr: true, wantCalls: 1},
		{name: "busy then success", maxRetries: 3, failFirst: 2, failErr: fmt.Errorf("database is locked"), wantCalls: 3},
		{name: "retries exhausted", maxRetries: 2, failFirst: 10, failErr: fmt.Errorf("database is locked"), wantErr: true, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryOnBusy(context.Background(), tt.maxRetries, func() error {
				calls++
				if calls <= tt.failFirst {
					return tt.failErr
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryOnBusy_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryOnBusy(ctx, 5, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return fmt.Errorf("database is locked")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected retry loop to stop after cancel, got %d calls", calls)
	}
}
