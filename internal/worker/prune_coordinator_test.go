package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/simplesync/internal/multistore"
)

type mockPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (m *mockPruner) PruneTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	if m.err != nil {
		return 0, m.err
	}
	return 2, nil
}

func (m *mockPruner) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cutoffs)
}

type mockDatasets struct {
	stores  []multistore.StoreInfo
	pruners map[string]*mockPruner
	listErr error
}

func newMockDatasets(ids ...string) *mockDatasets {
	m := &mockDatasets{pruners: map[string]*mockPruner{}}
	for _, id := range ids {
		m.stores = append(m.stores, multistore.StoreInfo{ID: id})
		m.pruners[id] = &mockPruner{}
	}
	return m
}

func (m *mockDatasets) ListStores(ctx context.Context) ([]multistore.StoreInfo, error) {
	return m.stores, m.listErr
}

func (m *mockDatasets) GetPruner(ctx context.Context, id string) (TombstonePruner, error) {
	if p, ok := m.pruners[id]; ok {
		return p, nil
	}
	return nil, errors.New("store not found")
}

func TestPruneCoordinator_SweepsAllStores(t *testing.T) {
	sets := newMockDatasets("default", "team-a", "org/team-b")
	sets.pruners["team-a"].err = errors.New("disk full")
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	c := NewPruneCoordinator(sets, time.Hour, 48*time.Hour)
	c.now = func() time.Time { return now }
	c.pruneAll(context.Background())

	// A failing store does not stop the others
	for id, p := range sets.pruners {
		if p.getCalls() != 1 {
			t.Errorf("%s pruned %d times", id, p.getCalls())
		}
	}
	want := now.Add(-48 * time.Hour)
	if got := sets.pruners["default"].cutoffs[0]; !got.Equal(want) {
		t.Errorf("cutoff = %v, want %v", got, want)
	}
}

func TestPruneCoordinator_RunStopsOnCancel(t *testing.T) {
	sets := newMockDatasets("default")
	c := NewPruneCoordinator(sets, 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return sets.pruners["default"].getCalls() >= 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestPruneCoordinator_ListErrorSkipsCycle(t *testing.T) {
	sets := newMockDatasets("default")
	sets.listErr = errors.New("boom")
	NewPruneCoordinator(sets, time.Hour, time.Hour).pruneAll(context.Background())
	if sets.pruners["default"].getCalls() != 0 {
		t.Error("pruned despite list failure")
	}
}
