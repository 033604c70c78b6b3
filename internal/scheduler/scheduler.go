// Package scheduler dispara os jobs do engine em cadência cron, com guarda
// single-flight por job e consciência de horário de mercado.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc recebe se o mercado está aberto no instante do tick
type JobFunc func(ctx context.Context, marketHours bool) error

type job struct {
	name    string
	spec    string
	run     JobFunc
	running atomic.Bool
}

type Scheduler struct {
	log    *zap.Logger
	cron   *cron.Cron
	market MarketHours
	warmup time.Duration
	Now    func() time.Time

	OnRun  func(job string, took time.Duration, err error) // métricas
	OnSkip func(job string)

	mu       sync.Mutex
	jobs     map[string]*job
	ctx      context.Context
	stopped  chan struct{}
	stopping bool
	started  bool
}

func New(log *zap.Logger, market MarketHours, warmup time.Duration) *Scheduler {
	return &Scheduler{
		log: log,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger{log.Named("cron")}),
		),
		market:  market,
		warmup:  warmup,
		Now:     time.Now,
		jobs:    map[string]*job{},
		ctx:     context.Background(),
		stopped: make(chan struct{}),
	}
}

// Add registra um job; spec aceita segundos ("*/10 * * * * *") e descritores ("@every 10s", "@hourly")
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, spec: spec, run: fn}
	if _, err := s.cron.AddFunc(spec, func() { s.tick(s.context(), j) }); err != nil {
		return fmt.Errorf("job %s spec %q: %w", name, spec, err)
	}
	s.jobs[name] = j
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Start aguarda o warm-up e liga o cron. Não bloqueia.
// Cancelar ctx durante o warm-up impede o início.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	go func() {
		t := time.NewTimer(s.warmup)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-t.C:
		}
		// Stop pode ter corrido junto com o timer
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopping || s.started {
			return
		}
		s.cron.Start()
		s.started = true
		s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)), zap.Duration("warmup", s.warmup))
	}()
}

// Stop para o cron e espera os jobs em execução terminarem; depois dele o cron não liga mais
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopping {
		s.stopping = true
		close(s.stopped)
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// tick executa o job uma vez; erro e panic são logados e o próximo tick segue agendado.
// Devolve false se o job já estava rodando.
func (s *Scheduler) tick(ctx context.Context, j *job) (ran bool) {
	if !j.running.CompareAndSwap(false, true) {
		s.log.Warn("job still running, skipping tick", zap.String("job", j.name))
		if s.OnSkip != nil {
			s.OnSkip(j.name)
		}
		return false
	}
	defer j.running.Store(false)
	if ctx.Err() != nil {
		return false
	}

	start := s.Now()
	open := s.market.IsOpen(start)
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = j.run(ctx, open)
	}()
	took := s.Now().Sub(start)

	if err != nil {
		s.log.Error("job failed", zap.String("job", j.name), zap.Bool("marketHours", open), zap.Duration("took", took), zap.Error(err))
	} else {
		s.log.Debug("job done", zap.String("job", j.name), zap.Bool("marketHours", open), zap.Duration("took", took))
	}
	if s.OnRun != nil {
		s.OnRun(j.name, took, err)
	}
	return true
}

// cronLogger adapta o zap ao cron.Logger
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
