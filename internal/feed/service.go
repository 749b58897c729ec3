package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option customizes a Writer, Reader, Cleaner or Service.
type Option func(*deps)

type deps struct {
	logger   *zap.Logger
	recorder Recorder
	nowFunc  func() time.Time
}

func newDeps(opts []Option) deps {
	d := deps{
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *deps) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *deps) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *deps) {
		if now != nil {
			d.nowFunc = now
		}
	}
}

// Service bundles the writer, reader and cleaner over one store. The host
// constructs it once at startup and shares it.
type Service struct {
	*Writer
	*Reader
	*Cleaner
}

// NewService validates cfg and wires the three components.
func NewService(store Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("feed: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		Writer:  NewWriter(store, cfg, opts...),
		Reader:  NewReader(store, cfg, opts...),
		Cleaner: NewCleaner(store, cfg, opts...),
	}, nil
}

// withCallTimeout bounds a single store call when a timeout is configured.
func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
