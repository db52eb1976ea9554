package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(idx)<<32))
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.exec(ctx, stopCh, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) exec(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	if qt.gated {
		defer qt.state.release()
	}
	start := time.Now()
	delay := start.Sub(qt.enqueuedAt)
	log := s.log.With(logx.String("task", qt.task.Name), logx.String("id", qt.task.ID))

	var err error
	attempts := 0
	for attempts < 1+qt.opt.RetryMax {
		attempts++
		err = s.runOnce(ctx, qt, log)
		if err == nil || IsNoRetry(err) || attempts > qt.opt.RetryMax {
			break
		}
		wait := retryDelay(qt.opt, attempts, err, rng)
		log.Debug("task retry scheduled", logx.Int("attempt", attempts+1), logx.Duration("delay", wait), logx.Err(err))
		if !sleep(ctx, stopCh, wait) {
			break
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		log.Warn("task failed", logx.Err(err), logx.Int("attempts", attempts), logx.Duration("queue_delay", delay))
		s.publish(eventbus.TopicTaskFailed, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, QueueDelay: delay, Duration: dur, Attempts: attempts, Error: item.Error})
	} else {
		log.Debug("task completed", logx.Duration("dur", dur), logx.Duration("queue_delay", delay))
	}
	s.record(item)
}

func (s *Service) runOnce(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return qt.task.Run(runCtx)
}

func sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-t.C:
		return true
	}
}

// retryDelay is exponential in attempt, capped, with symmetric jitter.
func retryDelay(opt TaskOptions, attempt int, err error, rng *rand.Rand) time.Duration {
	var d time.Duration
	var ra retryAfterError
	if errors.As(err, &ra) {
		d = ra.after
	} else {
		d = opt.RetryBase
		for i := 1; i < attempt && d < opt.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	d = min(d, opt.RetryMaxDelay)
	if opt.RetryJitter > 0 && d > 0 {
		d = time.Duration(float64(d) * (1 + (rng.Float64()*2-1)*opt.RetryJitter))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}
