// Package app wires the formcheck components together: pose estimation workers,
// the reference motion, the comparison engine, session history and delivery.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/formcheck/internal/config"
	"github.com/ayusman/formcheck/internal/delivery"
	"github.com/ayusman/formcheck/internal/deviation"
	"github.com/ayusman/formcheck/internal/engine"
	"github.com/ayusman/formcheck/internal/pose"
	"github.com/ayusman/formcheck/internal/reference"
	"github.com/ayusman/formcheck/internal/session"
	"github.com/ayusman/formcheck/internal/store"
	"github.com/ayusman/formcheck/internal/worker"
)

// Config holds the dependencies of an App.
type Config struct {
	// Settings is the loaded configuration. Required.
	Settings *config.Config
	// Store persists session summaries. Optional.
	Store *store.Store
	// Deliverer receives finished summaries. Defaults to delivery.Nop.
	Deliverer delivery.Deliverer
	// NewEstimator creates the estimator of each worker. Defaults to the pose
	// service, falling back to a mock estimator when the service is missing.
	NewEstimator worker.EstimatorFactory
}

// App is the running formcheck service.
type App struct {
	config    Config
	settings  *config.Config
	pool      *worker.Pool
	engine    *engine.Engine
	deliverer delivery.Deliverer
	started   time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// refMu serializes reference loads. refEst is created on first use and
	// lives outside the pool so extraction never holds up a session's worker.
	refMu  sync.Mutex
	refEst pose.Estimator
}

// New creates an App and starts its estimation workers. The reference motion is
// not loaded until LoadReference is called.
func New(cfg Config) (*App, error) {
	if cfg.Settings == nil {
		return nil, errors.New("app: settings required")
	}
	settings := cfg.Settings

	factory := cfg.NewEstimator
	if factory == nil {
		factory = serviceEstimatorFactory(settings)
	}

	pool, err := worker.New(worker.Config{
		Workers:   settings.Estimator.Workers,
		QueueSize: settings.Estimator.QueueSize,
	}, factory)
	if err != nil {
		return nil, fmt.Errorf("start workers: %w", err)
	}

	detector := deviation.NewDetector(deviation.Thresholds{
		ElbowAngleDeg: settings.Thresholds.ElbowAngleDeg,
		ShoulderTilt:  settings.Thresholds.ShoulderTilt,
		TiltScale:     settings.Thresholds.TiltScale,
	})
	sessions := session.NewManager(session.Options{
		Exercise:       detector.Exercise(),
		IdleTimeout:    settings.SessionIdleTimeout(),
		TrajectorySize: settings.Sessions.TrajectorySize,
	})

	deliverer := cfg.Deliverer
	if deliverer == nil {
		deliverer = delivery.Nop{}
	}

	return &App{
		config:    cfg,
		settings:  settings,
		pool:      pool,
		engine:    engine.New(reference.NewStore(), detector, sessions),
		deliverer: deliverer,
		started:   time.Now(),
	}, nil
}

// serviceEstimatorFactory creates pose service estimators configured from s.
func serviceEstimatorFactory(s *config.Config) worker.EstimatorFactory {
	return func(n int) (pose.Estimator, error) {
		est, err := pose.NewServiceEstimator(pose.Config{
			Python:         s.Estimator.Python,
			Script:         s.Estimator.Script,
			MinConfidence:  s.Estimator.MinConfidence,
			IdleTimeoutSec: int(s.EstimatorIdleTimeout() / time.Second),
		})
		if err != nil {
			log.Printf("Worker %d: pose service not available (%v), using mock estimator", n, err)
			return pose.NewMockEstimator(), nil
		}
		return est, nil
	}
}

// Start launches background maintenance: the idle session reaper.
func (a *App) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		a.engine.Sessions().Run(ctx, a.settings.ReapInterval())
	}(a.done)

	log.Println("Session reaper started")
}

// Close stops background work, drains the workers and closes the deliverer.
// The store is owned by the caller.
func (a *App) Close() error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		<-a.done
		a.cancel = nil
	}
	a.mu.Unlock()

	var refErr error
	a.refMu.Lock()
	if a.refEst != nil {
		refErr = a.refEst.Close()
		a.refEst = nil
	}
	a.refMu.Unlock()

	return errors.Join(a.pool.Close(), refErr, a.deliverer.Close())
}

// Engine returns the comparison engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Store returns the session history store, or nil.
func (a *App) Store() *store.Store {
	return a.config.Store
}

// Status is a point-in-time view of the service.
type Status struct {
	Uptime          time.Duration
	ReferenceFrames int
	ReferenceSource string
	ActiveSessions  int
	Workers         int
}

// Status reports the current state of the service. ReferenceFrames is 0 while
// no reference is loaded.
func (a *App) Status() Status {
	st := Status{
		Uptime:         time.Since(a.started),
		ActiveSessions: a.engine.Sessions().Len(),
		Workers:        a.pool.Size(),
	}
	if seq := a.engine.References().Current(); seq != nil {
		st.ReferenceFrames = seq.Len()
		st.ReferenceSource = seq.Source()
	}
	return st
}
