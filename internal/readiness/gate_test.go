package readiness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arin/reel/internal/movie"
)

const tick = time.Millisecond

// scriptedChecker answers CheckEmbeddings from a script; once the script
// runs out it repeats the last answer.
type scriptedChecker struct {
	mu        sync.Mutex
	answers   []bool
	errs      []error
	checks    int
	generates int
	genErr    error
	keys      []movie.Key
}

func (s *scriptedChecker) CheckEmbeddings(_ context.Context, key movie.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.checks
	s.checks++
	s.keys = append(s.keys, key)
	if i < len(s.errs) && s.errs[i] != nil {
		return false, s.errs[i]
	}
	if len(s.answers) == 0 {
		return false, nil
	}
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	return s.answers[i], nil
}

func (s *scriptedChecker) GenerateEmbeddings(_ context.Context, _ movie.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generates++
	return s.genErr
}

func (s *scriptedChecker) counts() (checks, generates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks, s.generates
}

type transitionLog struct {
	mu  sync.Mutex
	all []Transition
}

func (l *transitionLog) observe(tr Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, tr)
}

func (l *transitionLog) statuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, len(l.all))
	for i, tr := range l.all {
		out[i] = tr.To
	}
	return out
}

func sameStatuses(a, b []Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRun_AlreadyPrepared(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{true}}
	log := &transitionLog{}
	g := New(movie.NewKey("Inception", "2010"), checker, WithInterval(tick), WithObserver(log.observe))

	st, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != Ready {
		t.Errorf("expected ready, got %s", st)
	}
	if _, gens := checker.counts(); gens != 0 {
		t.Errorf("prepared movie must not trigger generation, got %d", gens)
	}
	if !sameStatuses(log.statuses(), []Status{Ready}) {
		t.Errorf("unexpected transitions: %v", log.statuses())
	}
}

func TestRun_DuneScenario(t *testing.T) {
	// Initial check false, then four polls false, fifth true.
	checker := &scriptedChecker{answers: []bool{false, false, false, false, false, true}}
	log := &transitionLog{}
	key := movie.NewKey("Dune", "2021")
	g := New(key, checker, WithInterval(tick), WithObserver(log.observe))

	st, err := g.Run(context.Background())
	g.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != Ready {
		t.Fatalf("expected ready, got %s", st)
	}
	if g.Attempts() != 5 {
		t.Errorf("expected exactly 5 poll cycles, got %d", g.Attempts())
	}
	checks, gens := checker.counts()
	if gens != 1 {
		t.Errorf("expected generation fired once, got %d", gens)
	}
	if checks != 6 {
		t.Errorf("expected 6 checks (1 initial + 5 polls), got %d", checks)
	}
	if !sameStatuses(log.statuses(), []Status{Generating, Ready}) {
		t.Errorf("unexpected transitions: %v", log.statuses())
	}
	for _, k := range checker.keys {
		if k != key {
			t.Errorf("every check must use the session key, got %q", k)
		}
	}
}

func TestRun_Timeout(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{false}}
	log := &transitionLog{}
	g := New("Dune (2021)", checker, WithInterval(tick), WithMaxAttempts(3), WithObserver(log.observe))

	st, err := g.Run(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if st != Error {
		t.Errorf("expected error status, got %s", st)
	}
	if g.Attempts() != 3 {
		t.Errorf("polling must stop at the ceiling, got %d attempts", g.Attempts())
	}

	// No orphaned ticker keeps polling after the terminal transition.
	checks, _ := checker.counts()
	time.Sleep(10 * tick)
	if after, _ := checker.counts(); after != checks {
		t.Errorf("polling continued after timeout: %d -> %d", checks, after)
	}
	if !sameStatuses(log.statuses(), []Status{Generating, Error}) {
		t.Errorf("unexpected transitions: %v", log.statuses())
	}
}

func TestRun_DefaultCeiling(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{false}}
	g := New("Dune (2021)", checker, WithInterval(time.Microsecond))

	_, err := g.Run(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if g.Attempts() != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, g.Attempts())
	}
}

func TestRun_CeilingCannotBeRaised(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{false}}
	g := New("Dune (2021)", checker, WithInterval(time.Microsecond), WithMaxAttempts(100))

	_, err := g.Run(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if g.Attempts() != DefaultMaxAttempts {
		t.Errorf("expected polling to stop at %d, got %d", DefaultMaxAttempts, g.Attempts())
	}
}

func TestRun_InitialCheckFails(t *testing.T) {
	checker := &scriptedChecker{errs: []error{errors.New("connection refused")}}
	log := &transitionLog{}
	g := New("Dune (2021)", checker, WithObserver(log.observe))

	st, err := g.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if st != Error {
		t.Errorf("expected error status, got %s", st)
	}
	if len(log.all) != 1 || log.all[0].Err == nil {
		t.Errorf("expected one error transition carrying the cause, got %+v", log.all)
	}
}

func TestRun_PollErrorDoesNotStopPolling(t *testing.T) {
	checker := &scriptedChecker{
		answers: []bool{false, false, false, true},
		errs:    []error{nil, errors.New("blip"), nil, nil},
	}
	g := New("Dune (2021)", checker, WithInterval(tick))

	st, err := g.Run(context.Background())
	if err != nil || st != Ready {
		t.Fatalf("expected ready, got %s (%v)", st, err)
	}
	if g.Attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", g.Attempts())
	}
}

func TestRun_GenerateFailureIgnored(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{false, true}, genErr: errors.New("500")}
	g := New("Dune (2021)", checker, WithInterval(tick))

	st, err := g.Run(context.Background())
	if err != nil || st != Ready {
		t.Fatalf("trigger failure must not change the outcome, got %s (%v)", st, err)
	}
}

func TestRun_CancelStopsPolling(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{false}}
	log := &transitionLog{}
	g := New("Dune (2021)", checker, WithInterval(tick), WithObserver(log.observe))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var st Status
	var err error
	go func() {
		st, err = g.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * tick)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if st != Generating {
		t.Errorf("cancel must not transition, got %s", st)
	}

	checks, _ := checker.counts()
	time.Sleep(10 * tick)
	if after, _ := checker.counts(); after != checks {
		t.Errorf("polling continued after cancel: %d -> %d", checks, after)
	}
}

func TestRun_OnlyOnce(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{true}}
	g := New("Dune (2021)", checker)

	if _, err := g.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, err := g.Run(context.Background())
	if err == nil {
		t.Error("second Run should fail")
	}
	if st != Ready {
		t.Errorf("status should be unchanged, got %s", st)
	}
	if checks, _ := checker.counts(); checks != 1 {
		t.Errorf("second Run must not query, got %d checks", checks)
	}
}

func TestStatus_ForwardOnly(t *testing.T) {
	allowed := map[Status][]Status{
		Checking:   {Generating, Ready, Error},
		Generating: {Ready, Error},
	}
	all := []Status{Checking, Generating, Ready, Error}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.canMoveTo(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
	if !Ready.Terminal() || !Error.Terminal() || Generating.Terminal() {
		t.Error("unexpected terminal classification")
	}
}
