package clock

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/criptocracia/ec/election"
)

type fakeSource struct {
	mu        sync.Mutex
	elections []*election.Election
}

func (f *fakeSource) Snapshot() []*election.Election {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*election.Election, len(f.elections))
	copy(out, f.elections)
	return out
}

// fakeAdvancer stands in for relay.Dispatcher: it owns the same lock
// discipline, mutating an election only while holding its own mutex and
// recording persist/publish calls made after releasing it.
type fakeAdvancer struct {
	mu        sync.Mutex
	elections map[string]*election.Election
	persisted []string
	published []string
}

func (a *fakeAdvancer) AdvanceStatus(ctx context.Context, electionID string, now int64) error {
	a.mu.Lock()
	e, ok := a.elections[electionID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("fakeAdvancer: unknown election %q", electionID)
	}
	changed := e.UpdateStatusBasedOnTime(now)
	status := e.Status.String()
	a.mu.Unlock()

	if !changed {
		return nil
	}
	a.mu.Lock()
	a.persisted = append(a.persisted, status)
	a.published = append(a.published, status)
	a.mu.Unlock()
	return nil
}

func testElection(t *testing.T, start, end int64) *election.Election {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	e, err := election.New("ab12", "Board Election", []election.Candidate{{ID: 1, Name: "Alice"}}, start, end, priv)
	require.NoError(t, err)
	return e
}

func TestSweepAdvancesAndPublishesOnChange(t *testing.T) {
	e := testElection(t, 1000, 2000)
	source := &fakeSource{elections: []*election.Election{e}}
	advancer := &fakeAdvancer{elections: map[string]*election.Election{e.ID: e}}
	s := New(source, advancer, nil).WithClock(func() time.Time { return time.Unix(1500, 0) })

	s.Sweep(context.Background())
	require.Equal(t, election.InProgress, e.Status)
	require.Equal(t, []string{"in-progress"}, advancer.persisted)
	require.Equal(t, []string{"in-progress"}, advancer.published)
}

func TestSweepNoOpWhenStatusUnchanged(t *testing.T) {
	e := testElection(t, 1000, 2000)
	source := &fakeSource{elections: []*election.Election{e}}
	advancer := &fakeAdvancer{elections: map[string]*election.Election{e.ID: e}}
	s := New(source, advancer, nil).WithClock(func() time.Time { return time.Unix(500, 0) })

	s.Sweep(context.Background())
	require.Equal(t, election.Open, e.Status)
	require.Empty(t, advancer.persisted)
	require.Empty(t, advancer.published)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	e := testElection(t, 1000, 2000)
	source := &fakeSource{elections: []*election.Election{e}}
	advancer := &fakeAdvancer{elections: map[string]*election.Election{e.ID: e}}
	s := New(source, advancer, nil).WithInterval(5 * time.Millisecond).WithClock(func() time.Time { return time.Unix(1500, 0) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
	require.Equal(t, election.InProgress, e.Status)
}
