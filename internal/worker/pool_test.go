package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/formcheck/internal/pose"
)

func mockFactory(created *[]*pose.MockEstimator) EstimatorFactory {
	var mu sync.Mutex
	return func(int) (pose.Estimator, error) {
		mu.Lock()
		defer mu.Unlock()
		m := pose.NewMockEstimator()
		*created = append(*created, m)
		return m, nil
	}
}

func newPool(t *testing.T, workers int) (*Pool, []*pose.MockEstimator) {
	t.Helper()
	var created []*pose.MockEstimator
	p, err := New(Config{Workers: workers, QueueSize: 4}, mockFactory(&created))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, created
}

// keysOnDifferentShards returns two keys routed to different workers.
func keysOnDifferentShards(t *testing.T, p *Pool) (string, string) {
	t.Helper()
	first := "session-0"
	for i := 1; i < 100; i++ {
		k := fmt.Sprintf("session-%d", i)
		if p.shardFor(k) != p.shardFor(first) {
			return first, k
		}
	}
	t.Fatal("no keys on different shards")
	return "", ""
}

func TestPool_OrderPerKey(t *testing.T) {
	p, _ := newPool(t, 4)

	var mu sync.Mutex
	got := make(map[string][]int)

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := p.Submit(context.Background(), key, func(pose.Estimator) {
					mu.Lock()
					got[key] = append(got[key], i)
					mu.Unlock()
				})
				if err != nil {
					t.Errorf("Submit() error = %v", err)
					return
				}
			}
		}(key)
	}
	wg.Wait()

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for key, seq := range got {
		if len(seq) != 50 {
			t.Errorf("key %s: expected 50 jobs, got %d", key, len(seq))
		}
		for i, v := range seq {
			if v != i {
				t.Errorf("key %s: job %d ran at position %d", key, v, i)
				break
			}
		}
	}
}

func TestPool_KeysDoNotBlockEachOther(t *testing.T) {
	p, _ := newPool(t, 2)
	slow, fast := keysOnDifferentShards(t, p)

	release := make(chan struct{})
	if err := p.Submit(context.Background(), slow, func(pose.Estimator) { <-release }); err != nil {
		t.Fatal(err)
	}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := p.Do(ctx, fast, func(pose.Estimator) error { return nil }); err != nil {
		t.Errorf("job on a free worker waited on a blocked one: %v", err)
	}
}

func TestPool_SameKeySameEstimator(t *testing.T) {
	p, _ := newPool(t, 3)

	var seen []pose.Estimator
	for i := 0; i < 5; i++ {
		err := p.Do(context.Background(), "s1", func(est pose.Estimator) error {
			seen = append(seen, est)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	for i := range seen {
		if seen[i] != seen[0] {
			t.Fatal("key moved between estimators")
		}
	}
}

func TestPool_Do(t *testing.T) {
	t.Run("returns job error", func(t *testing.T) {
		p, _ := newPool(t, 1)
		want := errors.New("estimate failed")
		if err := p.Do(context.Background(), "s1", func(pose.Estimator) error { return want }); err != want {
			t.Errorf("expected job error, got %v", err)
		}
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		p, _ := newPool(t, 1)

		release := make(chan struct{})
		defer close(release)
		_ = p.Submit(context.Background(), "s1", func(pose.Estimator) { <-release })

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := p.Do(ctx, "s1", func(pose.Estimator) error { return nil })
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestPool_Close(t *testing.T) {
	p, created := newPool(t, 3)
	if p.Size() != 3 || len(created) != 3 {
		t.Fatalf("expected 3 workers, got %d", p.Size())
	}

	ran := make(chan struct{}, 1)
	_ = p.Submit(context.Background(), "s1", func(pose.Estimator) { ran <- struct{}{} })

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-ran:
	default:
		t.Error("queued job did not run before Close returned")
	}

	for i, m := range created {
		if !m.Closed() {
			t.Errorf("estimator %d not closed", i)
		}
	}

	if err := p.Submit(context.Background(), "s1", func(pose.Estimator) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestNew_FactoryError(t *testing.T) {
	var created []*pose.MockEstimator
	inner := mockFactory(&created)

	_, err := New(Config{Workers: 3}, func(i int) (pose.Estimator, error) {
		if i == 2 {
			return nil, errors.New("no python")
		}
		return inner(i)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for i, m := range created {
		if !m.Closed() {
			t.Errorf("estimator %d leaked", i)
		}
	}
}
