package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/washer/internal/config"
	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/metrics"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/washer"
)

// Trigger names what started a run.
const (
	TriggerSchedule = "schedule"
	TriggerNotify   = "notify"
	TriggerCatchUp  = "catchup"
	TriggerManual   = "manual"
)

// Orchestrator owns the live stage instances and their schedules.
type Orchestrator struct {
	env      *washer.Env
	stages   []*stage
	byID     map[string]*stage
	logger   *slog.Logger
	recorder metrics.Recorder

	// runLock is held for reading by every regular run and for writing by
	// maintenance runs.
	runLock sync.RWMutex

	sched   gocron.Scheduler
	workers workerGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New builds and validates every configured stage. Any problem is returned
// as a configuration error before anything runs.
func New(cfg *config.Config, reg *washer.Registry, env *washer.Env) (*Orchestrator, error) {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		env:      env,
		byID:     map[string]*stage{},
		logger:   logger,
		recorder: metrics.OrNoop(env.Recorder),
	}

	for _, sc := range cfg.Stages {
		s, err := o.build(reg, sc)
		if err != nil {
			return nil, err
		}
		o.stages = append(o.stages, s)
		o.byID[s.id()] = s
	}
	for _, s := range o.stages {
		if err := o.validateSubscriptions(s); err != nil {
			return nil, err
		}
	}
	env.Peers = o.Stages
	return o, nil
}

func (o *Orchestrator) build(reg *washer.Registry, sc config.StageConfig) (*stage, error) {
	id := sc.StageID()
	if id == "" {
		return nil, ferrors.ConfigError("", "type", "stage without type").Build()
	}
	if id == model.LogCollection {
		return nil, ferrors.ConfigError(id, "id", "reserved stage id").Build()
	}
	if _, dup := o.byID[id]; dup {
		return nil, ferrors.ConfigError(id, "id", "duplicate stage id").Build()
	}
	t, ok := reg.Lookup(sc.Type)
	if !ok {
		return nil, ferrors.ConfigError(id, "type", fmt.Sprintf("unknown stage type %q", sc.Type)).Build()
	}
	if t.Abstract {
		return nil, ferrors.ConfigError(id, "type", fmt.Sprintf("stage type %q is abstract", sc.Type)).Build()
	}
	vals, err := t.Settings.Parse(id, sc.Settings)
	if err != nil {
		return nil, err
	}
	w, err := t.New(washer.NewBase(o.env, t, id, vals))
	if err != nil {
		if ferrors.IsConfigError(err) {
			return nil, err
		}
		return nil, ferrors.ConfigError(id, "", "cannot construct stage").WithCause(err).Build()
	}
	if !washer.Implements(w, t.Kind) {
		return nil, ferrors.InternalError(fmt.Sprintf("stage type %q does not implement %s", t.Name, t.Kind)).Build()
	}
	return newStage(w), nil
}

func (o *Orchestrator) validateSubscriptions(s *stage) error {
	if !s.kind().Subscribes() {
		return nil
	}
	subs := s.base.Subscriptions()
	if len(subs) == 0 {
		return ferrors.ConfigError(s.id(), washer.SettingSubscribe, "at least one producer is required").Build()
	}
	for _, p := range subs {
		if p == s.id() {
			return ferrors.ConfigError(s.id(), washer.SettingSubscribe, "stage cannot subscribe to itself").Build()
		}
		if p == model.LogCollection {
			continue
		}
		producer, ok := o.byID[p]
		if !ok {
			return ferrors.ConfigError(s.id(), washer.SettingSubscribe, fmt.Sprintf("unknown stage %q", p)).Build()
		}
		if !producer.kind().Emits() {
			return ferrors.ConfigError(s.id(), washer.SettingSubscribe,
				fmt.Sprintf("stage %q is a %s and produces no items", p, producer.kind())).Build()
		}
	}
	return nil
}

// Stages returns the configured stage instances in configuration order.
func (o *Orchestrator) Stages() []*washer.Base {
	out := make([]*washer.Base, len(o.stages))
	for i, s := range o.stages {
		out[i] = s.base
	}
	return out
}

// Stage returns the instance with id.
func (o *Orchestrator) Stage(id string) (*washer.Base, bool) {
	s, ok := o.byID[id]
	if !ok {
		return nil, false
	}
	return s.base, true
}

// Init loads memory, validates file stores and runs every stage's Init. A
// stage that fails is logged and left out; the others continue.
func (o *Orchestrator) Init(ctx context.Context) {
	for _, s := range o.stages {
		if err := o.initStage(ctx, s); err != nil {
			s.failed = true
			o.logger.Error("Stage initialization failed",
				logfields.StageID(s.id()), logfields.StageType(s.base.Type.Name), logfields.Error(err))
			s.base.Log(ctx, model.LevelError, "initialization failed", err)
		}
	}
}

func (o *Orchestrator) initStage(ctx context.Context, s *stage) error {
	if err := s.base.Open(ctx); err != nil {
		return err
	}
	if err := s.w.Init(ctx); err != nil {
		return ferrors.RunError(s.id(), err).Build()
	}
	return nil
}

// Start initializes the stages, registers cron jobs and subscriptions and
// runs the catch-up poll of every subscribing stage. On error everything
// registered so far is torn down again.
func (o *Orchestrator) Start(ctx context.Context) (err error) {
	if o.started {
		return errors.New("orchestrator already started")
	}
	o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		if err != nil {
			if stopErr := o.Stop(ctx); stopErr != nil {
				o.logger.Warn("Partially started stages did not stop cleanly", logfields.Error(stopErr))
			}
		}
	}()
	o.Init(o.ctx)

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	o.sched = sched
	for _, s := range o.active() {
		expr := s.base.Schedule()
		if expr == "" {
			continue
		}
		if _, err := sched.NewJob(
			gocron.CronJob(expr, true),
			gocron.NewTask(o.tick, s),
			gocron.WithName(s.id()),
		); err != nil {
			return ferrors.ConfigError(s.id(), washer.SettingSchedule, "cannot schedule").WithCause(err).Build()
		}
	}

	for _, s := range o.active() {
		if s.kind().Subscribes() {
			if err := o.subscribe(s); err != nil {
				return err
			}
		}
	}
	o.started = true
	sched.Start()
	o.logger.Info("Orchestrator started", slog.Int("stages", len(o.stages)), slog.Int("active", len(o.active())))
	return nil
}

func (o *Orchestrator) active() []*stage {
	return slices.DeleteFunc(slices.Clone(o.stages), func(s *stage) bool { return s.failed })
}

// subscribe registers the live path and starts the catch-up run. The stage
// is marked running first so notifications arriving during the catch-up
// poll are buffered, then deduplicated against what the poll delivered.
func (o *Orchestrator) subscribe(s *stage) error {
	s.running.Store(true)
	for _, producer := range s.base.Subscriptions() {
		sub, err := o.env.Port.Subscribe(producer, s.base.Filter(), func(it model.Item) {
			// a log consumer never sees its own entries
			if producer == model.LogCollection && it.Meta["stage"] == s.id() {
				return
			}
			o.notify(s, delivery{producer: producer, item: it})
		})
		if err != nil {
			s.running.Store(false)
			return fmt.Errorf("subscribe %s to %s: %w", s.id(), producer, err)
		}
		s.subs = append(s.subs, sub)
	}
	if !o.workers.Go(func() {
		in, err := o.catchUp(o.ctx, s)
		if err != nil {
			o.fail(o.ctx, s, TriggerCatchUp, err)
			in = nil
		}
		o.loop(s, TriggerCatchUp, in)
	}) {
		s.running.Store(false)
	}
	return nil
}

// catchUp loads every item saved by the stage's producers since its last run.
// Items are newest first per producer, producers in subscription order.
func (o *Orchestrator) catchUp(ctx context.Context, s *stage) ([]delivery, error) {
	var out []delivery
	for _, producer := range s.base.Subscriptions() {
		loaded, err := o.env.Port.LoadItems(ctx, producer, s.base.Memory.LastRun, s.base.Filter())
		if err != nil {
			return nil, fmt.Errorf("load items of %s: %w", producer, err)
		}
		for _, it := range loaded {
			if producer == model.LogCollection && it.Meta["stage"] == s.id() {
				continue
			}
			out = append(out, delivery{producer: producer, item: it})
		}
	}
	return out, nil
}

// tick is the cron task.
func (o *Orchestrator) tick(s *stage) {
	if s.running.CompareAndSwap(false, true) {
		if !o.workers.Go(func() { o.loop(s, TriggerSchedule, nil) }) {
			s.running.Store(false)
		}
		return
	}
	if s.kind().Exclusive() {
		s.mu.Lock()
		s.rerun = true
		s.mu.Unlock()
		o.recorder.IncStageResult(s.base.Type.Name, metrics.ResultDeferred)
		return
	}
	o.recorder.IncStageResult(s.base.Type.Name, metrics.ResultSkipped)
	s.base.Logger.Debug("Skipping tick, stage is still running")
}

// notify buffers an upstream item and starts a run when the stage is idle.
func (o *Orchestrator) notify(s *stage, d delivery) {
	s.mu.Lock()
	s.pending = append(s.pending, d)
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	in := s.takePending()
	s.mu.Unlock()
	if !o.workers.Go(func() { o.loop(s, TriggerNotify, in) }) {
		s.running.Store(false)
	}
}

// loop runs the stage, then keeps running while notifications or a rerun
// request arrived in the meantime. It owns the running flag.
func (o *Orchestrator) loop(s *stage, trigger string, in []delivery) {
	for {
		o.cycle(o.ctx, s, trigger, in)

		s.mu.Lock()
		next := s.takePending()
		rerun := s.rerun
		s.rerun = false
		if len(next) == 0 && !rerun {
			s.running.Store(false)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		trigger, in = TriggerNotify, next
		if rerun {
			trigger = TriggerSchedule
		}
	}
}

// RunNow runs one stage synchronously, as if its schedule fired. Sources and
// maintenance stages run directly; subscribing stages poll their producers
// since their last run. It returns an error when the stage is already
// running.
func (o *Orchestrator) RunNow(ctx context.Context, id string) error {
	s, ok := o.byID[id]
	if !ok {
		return ferrors.NotFoundError(fmt.Sprintf("unknown stage %q", id)).Build()
	}
	if s.failed {
		return fmt.Errorf("stage %q failed to initialize", id)
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("stage %q is already running", id)
	}
	defer s.running.Store(false)
	return o.cycle(ctx, s, TriggerManual, nil)
}

// Stop removes every trigger, waits for running stages to finish (bounded by
// ctx) and runs Cleanup on every stage.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var errs []error
	if o.sched != nil {
		if err := o.sched.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}
	for _, s := range o.stages {
		for _, sub := range s.subs {
			if err := sub.Unsubscribe(); err != nil {
				errs = append(errs, err)
			}
		}
		s.subs = nil
	}
	if err := o.workers.StopAndWait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for running stages: %w", err))
	}
	cleanupCtx := ctx
	if o.ctx != nil {
		cleanupCtx = o.ctx
	}
	for _, s := range o.stages {
		if err := s.w.Cleanup(cleanupCtx); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", s.id(), err))
		}
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.logger.Info("Orchestrator stopped")
	return errors.Join(errs...)
}
