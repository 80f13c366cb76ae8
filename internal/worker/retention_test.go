package worker

import (
	"context"
	"sync"
	"testing"
)

type fakeRetentionStore struct {
	mu     sync.Mutex
	calls  []int
	delete int64
}

func (f *fakeRetentionStore) DeleteOldDeliveries(ctx context.Context, daysOld int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, daysOld)
	return f.delete, nil
}

func TestRetentionSweeper_SweepUsesConfiguredWindow(t *testing.T) {
	fs := &fakeRetentionStore{delete: 12}
	s := NewRetentionSweeper(fs, 30, testLogger())

	s.sweep(context.Background())

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.calls) != 1 || fs.calls[0] != 30 {
		t.Errorf("expected one sweep with 30 days, got %v", fs.calls)
	}
}

func TestRetentionSweeper_DefaultsWindow(t *testing.T) {
	s := NewRetentionSweeper(&fakeRetentionStore{}, 0, testLogger())
	if s.days != 90 {
		t.Errorf("default retention: got %d days, want 90", s.days)
	}
}
