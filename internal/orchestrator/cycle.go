package orchestrator

import (
	"context"
	"fmt"

	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/metrics"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/washer"
)

// acquire takes the global run-lock for s and returns its release.
func (o *Orchestrator) acquire(s *stage) func() {
	if s.kind().Exclusive() {
		o.runLock.Lock()
		return o.runLock.Unlock
	}
	if !o.runLock.TryRLock() {
		o.recorder.IncStageResult(s.base.Type.Name, metrics.ResultDeferred)
		s.base.Logger.Debug("Waiting for maintenance to finish")
		o.runLock.RLock()
	}
	return o.runLock.RUnlock
}

// cycle performs one run: invoke the stage, persist its output, save its
// memory and apply file retention. A failed run is logged to the log stream
// and skips the remaining steps.
func (o *Orchestrator) cycle(ctx context.Context, s *stage, trigger string, in []delivery) error {
	release := o.acquire(s)
	defer release()

	b := s.base
	if s.kind().Subscribes() && in == nil && trigger != TriggerNotify && trigger != TriggerCatchUp {
		polled, err := o.catchUp(ctx, s)
		if err != nil {
			return o.fail(ctx, s, trigger, err)
		}
		in = polled
	}
	if s.kind().Subscribes() {
		s.markDelivered(in)
		if len(in) == 0 {
			return nil
		}
	}

	start := b.Now()
	b.Logger.Debug("Running stage", logfields.Trigger(trigger), logfields.Items(len(in)))
	out, err := invoke(ctx, s.w, items(in))
	if err != nil {
		return o.fail(ctx, s, trigger, err)
	}

	saved := 0
	if s.kind().Emits() {
		out = b.ResolveDownloads(ctx, out)
		saved, err = o.env.Port.SaveItems(ctx, b.ID, out, b.Retain())
		if err != nil {
			return o.fail(ctx, s, trigger, fmt.Errorf("save items: %w", err))
		}
		o.recorder.AddItemsSaved(b.Type.Name, saved)
	}

	took := b.Now().Sub(start)
	if err := b.SaveMemory(ctx, start, took); err != nil {
		b.Logger.Error("Failed to save memory", logfields.Error(err))
	}
	if b.Files != nil {
		if _, err := b.Files.CleanRetention(ctx, b.Now(), b.RetainFiles()); err != nil {
			b.Logger.Warn("File retention failed", logfields.Error(err))
		}
	}

	o.recorder.ObserveStageDuration(b.Type.Name, took)
	o.recorder.IncStageResult(b.Type.Name, metrics.ResultSuccess)
	b.Logger.Info("Stage run complete",
		logfields.Trigger(trigger), logfields.Items(len(in)), logfields.DurationMS(took), logfields.StageKind(s.kind().String()),
		"saved", saved)
	return nil
}

// invoke calls the Run method of the stage's kind.
func invoke(ctx context.Context, w washer.Washer, in []model.Item) (out []model.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	switch st := w.(type) {
	case washer.Source:
		return st.Run(ctx)
	case washer.Transform:
		return st.Run(ctx, in)
	case washer.Sink:
		return nil, st.Run(ctx, in)
	case washer.Maintenance:
		return nil, st.Run(ctx)
	}
	return nil, fmt.Errorf("stage %s has no run method", w.Stage().ID)
}

// fail records a run error. It never propagates past the stage.
func (o *Orchestrator) fail(ctx context.Context, s *stage, trigger string, err error) error {
	b := s.base
	o.recorder.IncStageResult(b.Type.Name, metrics.ResultError)
	b.Logger.Error("Stage run failed", logfields.Trigger(trigger), logfields.Error(err))
	b.Log(ctx, model.LevelError, "run failed", err)
	return ferrors.RunError(b.ID, err).Build()
}
