package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// AutoCloser closes tickets that stayed resolved past the delay.
type AutoCloser interface {
	AutoCloseResolved(ctx context.Context) (int, error)
}

// AutoCloseScheduler runs the auto-close sweep on a cron schedule.
type AutoCloseScheduler struct {
	cron    *cron.Cron
	closer  AutoCloser
	logger  *zap.Logger
	timeout time.Duration
}

// NewAutoCloseScheduler registers the sweep under the given standard cron
// expression. Overlapping runs are skipped.
func NewAutoCloseScheduler(closer AutoCloser, schedule string, logger *zap.Logger) (*AutoCloseScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLog := newCronLogger(logger)
	s := &AutoCloseScheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		closer:  closer,
		logger:  logger,
		timeout: 5 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("schedule auto-close %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *AutoCloseScheduler) Start() {
	s.cron.Start()
	s.logger.Info("auto-close scheduler started")
}

// Stop prevents new runs and waits for a running sweep.
func (s *AutoCloseScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("auto-close scheduler stopped")
}

// RunOnce performs a single sweep.
func (s *AutoCloseScheduler) RunOnce(ctx context.Context) (int, error) {
	closed, err := s.closer.AutoCloseResolved(ctx)
	if err != nil {
		s.logger.Error("auto-close sweep failed", zap.Int("closed", closed), zap.Error(err))
		return closed, err
	}
	if closed > 0 {
		s.logger.Info("auto-close sweep", zap.Int("closed", closed))
	}
	return closed, nil
}

func (s *AutoCloseScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}

// cronLogger routes the scheduler's own messages into zap. Its routine
// wake-up chatter goes to debug.
type cronLogger struct {
	l *zap.SugaredLogger
}

func newCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{l: logger.Named("cron").Sugar()}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
