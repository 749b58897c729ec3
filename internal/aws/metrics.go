package aws

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-feed-fanout/internal/feed"
)

// DefaultMetricsTimeout bounds a single PutMetricData call.
const DefaultMetricsTimeout = 2 * time.Second

// Metric names published by MetricsRecorder.
const (
	MetricFanOutWritten    = "FanOutWritten"
	MetricFanOutExisting   = "FanOutExisting"
	MetricFanOutFailed     = "FanOutFailed"
	MetricCleanupDeleted   = "CleanupDeleted"
	MetricCleanupRemaining = "CleanupRemaining"
	MetricCleanupPartial   = "CleanupPartial"
)

// MetricsRecorder publishes feed operation summaries to CloudWatch. Publishing
// failures are logged and never surface to the feed operation.
type MetricsRecorder struct {
	client    CloudWatchAPI
	namespace string
	logger    *zap.Logger
	timeout   time.Duration
	nowFunc   func() time.Time
}

var _ feed.Recorder = (*MetricsRecorder)(nil)

// NewMetricsRecorder returns a recorder publishing under namespace.
func NewMetricsRecorder(client CloudWatchAPI, namespace string, logger *zap.Logger) *MetricsRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
		timeout:   DefaultMetricsTimeout,
		nowFunc:   time.Now,
	}
}

// FanOutCompleted publishes the per-recipient outcome counts of a fan-out.
func (r *MetricsRecorder) FanOutCompleted(ctx context.Context, res feed.FanOutResult) {
	r.put(ctx, nil, map[string]int{
		MetricFanOutWritten:  res.Written,
		MetricFanOutExisting: res.Existing,
		MetricFanOutFailed:   len(res.Failed),
	})
}

// CleanupCompleted publishes deleted and remaining counts plus a partial flag,
// dimensioned by cleanup operation.
func (r *MetricsRecorder) CleanupCompleted(ctx context.Context, res feed.CleanupResult) {
	partial := 0
	if res.Partial() {
		partial = 1
	}
	dims := []cwtypes.Dimension{{
		Name:  sdkaws.String("Operation"),
		Value: sdkaws.String(string(res.Operation)),
	}}
	r.put(ctx, dims, map[string]int{
		MetricCleanupDeleted:   res.DeletedCount,
		MetricCleanupRemaining: len(res.Remaining),
		MetricCleanupPartial:   partial,
	})
}

func (r *MetricsRecorder) put(ctx context.Context, dims []cwtypes.Dimension, values map[string]int) {
	now := r.nowFunc()
	data := make([]cwtypes.MetricDatum, 0, len(values))
	for name, v := range values {
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(name),
			Dimensions: dims,
			Timestamp:  sdkaws.Time(now),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(float64(v)),
		})
	}

	// The caller's context may already be canceled after a partial cleanup.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	_, err := r.client.PutMetricData(callCtx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		r.logger.Warn("put metric data failed", zap.String("namespace", r.namespace), zap.Error(err))
	}
}
