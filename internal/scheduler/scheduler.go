// Package scheduler runs the periodic maintenance jobs: expiring credit
// lots, repairing half-finished fulfillments and draining the outbox. Jobs
// are idempotent, so overlapping instances are safe; a redis lock merely
// avoids wasted duplicate work when one is configured.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowvane/creditdesk/internal/clock"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	"github.com/flowvane/creditdesk/internal/events"
	fulfillmentdomain "github.com/flowvane/creditdesk/internal/fulfillment/domain"
	obsmetrics "github.com/flowvane/creditdesk/internal/observability/metrics"
	"github.com/flowvane/creditdesk/internal/ratelimit"
	subscriptiondomain "github.com/flowvane/creditdesk/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireLots          = "expire_lots"
	JobReconcile           = "reconcile_fulfillments"
	JobSubscriptionPastDue = "subscriptions_past_due"
	JobDispatchOutbox      = "dispatch_outbox"
)

type Params struct {
	fx.In

	Log             *zap.Logger
	Clock           clock.Clock
	LotSvc          creditlotdomain.Service
	FulfillmentSvc  fulfillmentdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Dispatcher      *events.Dispatcher
	Locker          *ratelimit.Locker          `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics        `optional:"true"`
	Config          Config                     `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	lotSvc          creditlotdomain.Service
	fulfillmentSvc  fulfillmentdomain.Service
	subscriptionSvc subscriptiondomain.Service
	dispatcher      *events.Dispatcher
	locker          *ratelimit.Locker
	obsMetrics      *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.LotSvc == nil || p.FulfillmentSvc == nil || p.SubscriptionSvc == nil || p.Dispatcher == nil {
		return nil, errors.New("scheduler dependencies missing")
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler"),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		lotSvc:          p.LotSvc,
		fulfillmentSvc:  p.FulfillmentSvc,
		subscriptionSvc: p.SubscriptionSvc,
		dispatcher:      p.Dispatcher,
		locker:          p.Locker,
		obsMetrics:      p.ObsMetrics,
	}, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(ctx context.Context) error
	}{
		{JobExpireLots, 30 * time.Second, s.ExpireLotsJob},
		{JobReconcile, 30 * time.Second, s.ReconcileFulfillmentsJob},
		{JobSubscriptionPastDue, 30 * time.Second, s.SubscriptionsPastDueJob},
		{JobDispatchOutbox, 30 * time.Second, s.DispatchOutboxJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	release, acquired, err := s.acquireJobLock(ctx, name)
	if err != nil {
		s.log.Warn("job lock unavailable, running unguarded",
			zap.String("job", name),
			zap.Error(err),
		)
	} else if !acquired {
		return nil
	}
	if release != nil {
		defer release()
	}

	start := s.clock.Now()
	if s.obsMetrics != nil {
		s.obsMetrics.IncJobRun(name)
	}

	err = fn(ctx)
	if s.obsMetrics != nil {
		s.obsMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	}
	if err == nil {
		return nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.IncJobError(name, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// acquireJobLock guards a job run with a redis lock when a locker is wired.
// Without one, every instance runs every job, which is correct but noisier.
func (s *Scheduler) acquireJobLock(ctx context.Context, name string) (func(), bool, error) {
	if s.locker == nil {
		return nil, true, nil
	}
	key := "scheduler:job:" + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}
	return release, true, nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) ExpireLotsJob(ctx context.Context) error {
	expired, err := s.lotSvc.ExpireDue(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("expired credit lots", zap.Int("count", expired))
	}
	return nil
}

func (s *Scheduler) ReconcileFulfillmentsJob(ctx context.Context) error {
	_, err := s.fulfillmentSvc.ReconcilePaid(ctx, s.clock.Now())
	return err
}

func (s *Scheduler) SubscriptionsPastDueJob(ctx context.Context) error {
	_, err := s.subscriptionSvc.SweepPastDue(ctx, s.clock.Now())
	return err
}

func (s *Scheduler) DispatchOutboxJob(ctx context.Context) error {
	dispatched, err := s.dispatcher.Dispatch(ctx)
	if err != nil {
		return err
	}
	if dispatched > 0 {
		s.log.Info("dispatched outbox events", zap.Int("count", dispatched))
	}
	return nil
}
