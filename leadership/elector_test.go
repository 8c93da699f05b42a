package leadership

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/youssefsiam38/sessionpg/internal/testutil"
	"github.com/youssefsiam38/sessionpg/storage"
)

// countingStore wraps the in-memory lease with call counters and error injection.
type countingStore struct {
	*testutil.MemoryStore
	electCalled   atomic.Int32
	reelectCalled atomic.Int32
	resignCalled  atomic.Int32
	reelectErr    atomic.Value // error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: testutil.NewMemoryStore()}
}

func (s *countingStore) LeaderAttemptElect(ctx context.Context, params *storage.LeaderElectParams) (bool, error) {
	s.electCalled.Add(1)
	return s.MemoryStore.LeaderAttemptElect(ctx, params)
}

func (s *countingStore) LeaderAttemptReelect(ctx context.Context, params *storage.LeaderElectParams) (bool, error) {
	s.reelectCalled.Add(1)
	if err, ok := s.reelectErr.Load().(error); ok && err != nil {
		return false, err
	}
	return s.MemoryStore.LeaderAttemptReelect(ctx, params)
}

func (s *countingStore) LeaderResign(ctx context.Context, leaderID string) error {
	s.resignCalled.Add(1)
	return s.MemoryStore.LeaderResign(ctx, leaderID)
}

func fastConfig() *Config {
	return &Config{
		LeaderTTL:       100 * time.Millisecond,
		ElectionPeriod:  20 * time.Millisecond,
		ReelectionDelay: 25 * time.Millisecond,
	}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeDuty records starts and stops in a shared log.
type fakeDuty struct {
	name     string
	log      *dutyLog
	startErr error
	running  atomic.Bool
}

func (d *fakeDuty) Start(ctx context.Context) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.running.Store(true)
	d.log.add("start " + d.name)
	return nil
}

func (d *fakeDuty) Stop(ctx context.Context) error {
	d.running.Store(false)
	d.log.add("stop " + d.name)
	return nil
}

type dutyLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *dutyLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *dutyLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func newElectorWithDuty(t *testing.T, store storage.LeaderStore, instanceID string, config *Config) (*Elector, *fakeDuty) {
	t.Helper()
	d := &fakeDuty{name: "retention", log: &dutyLog{}}
	elector := NewElector(store, instanceID, config)
	if err := elector.Assign(d.name, d); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	return elector, d
}

func TestElector_StartStop(t *testing.T) {
	store := newCountingStore()
	elector, d := newElectorWithDuty(t, store, "instance-1", fastConfig())
	ctx := context.Background()

	if err := elector.Stop(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Stop() before Start error = %v, want %v", err, ErrNotStarted)
	}
	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := elector.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := elector.Assign("rescuer", &fakeDuty{log: &dutyLog{}}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Assign() after Start error = %v, want %v", err, ErrAlreadyStarted)
	}

	eventually(t, "an election attempt", func() bool { return store.electCalled.Load() > 0 })

	if err := elector.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if store.Leader() != "" {
		t.Errorf("lease held by %q after Stop, want released", store.Leader())
	}
	if d.running.Load() {
		t.Error("duty still running after Stop")
	}

	// Restart after Stop
	if err := elector.Start(ctx); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	eventually(t, "leadership after restart", elector.IsLeader)
	if err := elector.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestElector_AssignValidation(t *testing.T) {
	elector := NewElector(newCountingStore(), "instance-1", fastConfig())

	if err := elector.Start(context.Background()); !errors.Is(err, ErrNoDuties) {
		t.Fatalf("Start() without duties error = %v, want %v", err, ErrNoDuties)
	}
	if err := elector.Assign("retention", &fakeDuty{log: &dutyLog{}}); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := elector.Assign("retention", &fakeDuty{log: &dutyLog{}}); !errors.Is(err, ErrDuplicateDuty) {
		t.Errorf("Assign() duplicate error = %v, want %v", err, ErrDuplicateDuty)
	}
}

func TestElector_RunsDutiesWhileLeading(t *testing.T) {
	store := newCountingStore()
	log := &dutyLog{}
	var changes []bool
	var mu sync.Mutex

	config := fastConfig()
	config.OnChange = func(leader bool) {
		mu.Lock()
		changes = append(changes, leader)
		mu.Unlock()
	}
	elector := NewElector(store, "instance-1", config)
	for _, name := range []string{"rescuer", "retention"} {
		if err := elector.Assign(name, &fakeDuty{name: name, log: log}); err != nil {
			t.Fatalf("Assign(%q) error = %v", name, err)
		}
	}
	ctx := context.Background()

	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, "leadership", elector.IsLeader)

	// Renewals keep the lease without restarting duties
	eventually(t, "a reelection", func() bool { return store.reelectCalled.Load() >= 2 })
	if got, want := elector.Running(), []string{"rescuer", "retention"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Running() = %v, want %v", got, want)
	}

	if err := elector.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	want := []string{"start rescuer", "start retention", "stop retention", "stop rescuer"}
	if got := log.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("duty log = %v, want %v", got, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(changes, []bool{true, false}) {
		t.Errorf("OnChange calls = %v, want [true false]", changes)
	}
	if len(elector.Running()) != 0 {
		t.Errorf("Running() after Stop = %v, want none", elector.Running())
	}
}

func TestElector_DutyStartFailure(t *testing.T) {
	store := newCountingStore()
	log := &dutyLog{}
	errCh := make(chan error, 10)

	config := fastConfig()
	config.OnError = func(err error) { errCh <- err }
	elector := NewElector(store, "instance-1", config)
	broken := &fakeDuty{name: "rescuer", log: log, startErr: errors.New("no summarizer")}
	healthy := &fakeDuty{name: "retention", log: log}
	if err := elector.Assign(broken.name, broken); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := elector.Assign(healthy.name, healthy); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	ctx := context.Background()

	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, "leadership", elector.IsLeader)

	select {
	case err := <-errCh:
		var derr *DutyError
		if !errors.As(err, &derr) || derr.Duty != "rescuer" || derr.Op != "start" {
			t.Errorf("reported error = %v, want DutyError{rescuer, start}", err)
		}
	case <-time.After(time.Second):
		t.Fatal("duty start failure not reported")
	}

	if err := elector.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	// The failed duty is never stopped.
	want := []string{"start retention", "stop retention"}
	if got := log.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("duty log = %v, want %v", got, want)
	}
}

func TestElector_SingleLeaderAndFailover(t *testing.T) {
	store := newCountingStore()
	ctx := context.Background()

	first, firstDuty := newElectorWithDuty(t, store, "instance-1", fastConfig())
	second, secondDuty := newElectorWithDuty(t, store, "instance-2", fastConfig())

	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, "first leader", first.IsLeader)

	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer second.Stop(ctx)

	time.Sleep(60 * time.Millisecond)
	if second.IsLeader() || secondDuty.running.Load() {
		t.Fatal("two leaders at once")
	}

	// Stopping the leader releases the lease; the other instance takes over.
	if err := first.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if firstDuty.running.Load() {
		t.Error("stopped leader still runs its duty")
	}
	eventually(t, "failover to the second instance", second.IsLeader)
	eventually(t, "duty on the second instance", secondDuty.running.Load)
	if store.Leader() != "instance-2" {
		t.Errorf("lease holder = %q, want instance-2", store.Leader())
	}
}

func TestElector_LosesLeadershipOnRenewalError(t *testing.T) {
	store := newCountingStore()
	errCh := make(chan error, 10)

	config := fastConfig()
	config.OnError = func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}
	elector, d := newElectorWithDuty(t, store, "instance-1", config)
	ctx := context.Background()

	if err := elector.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer elector.Stop(ctx)
	eventually(t, "leadership", elector.IsLeader)
	eventually(t, "duty running", d.running.Load)

	store.reelectErr.Store(errors.New("connection reset"))

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrLeaseLost) {
			t.Errorf("reported error = %v, want ErrLeaseLost", err)
		}
	case <-time.After(time.Second):
		t.Fatal("lost lease not reported")
	}
	eventually(t, "duty stopped", func() bool { return !d.running.Load() })
}

func TestConfig_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "zero",
			in:   Config{},
			want: *DefaultConfig(),
		},
		{
			name: "delay not shorter than ttl",
			in:   Config{LeaderTTL: 9 * time.Second, ElectionPeriod: time.Second, ReelectionDelay: 9 * time.Second},
			want: Config{LeaderTTL: 9 * time.Second, ElectionPeriod: time.Second, ReelectionDelay: 3 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.ApplyDefaults()
			if got.LeaderTTL != tt.want.LeaderTTL ||
				got.ElectionPeriod != tt.want.ElectionPeriod ||
				got.ReelectionDelay != tt.want.ReelectionDelay {
				t.Errorf("ApplyDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
