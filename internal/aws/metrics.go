package aws

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatch accepts at most 1000 datums per PutMetricData call.
const maxDatumsPerCall = 1000

// MetricsRecorder aggregates counters in memory and publishes them to CloudWatch.
// A nil *MetricsRecorder is a valid no-op recorder.
type MetricsRecorder struct {
	client    CloudWatchAPI
	namespace string
	logger    *slog.Logger
	nowFunc   func() time.Time

	mu     sync.Mutex
	counts map[string]float64
}

// NewMetricsRecorder returns a recorder publishing under namespace.
func NewMetricsRecorder(client CloudWatchAPI, namespace string, logger *slog.Logger) *MetricsRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
		counts:    map[string]float64{},
	}
}

// Incr adds one to the named counter.
func (r *MetricsRecorder) Incr(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.counts[name]++
	r.mu.Unlock()
}

// Flush publishes and resets all pending counters. Counters are kept when the call fails
// so the next flush retries them.
func (r *MetricsRecorder) Flush(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	pending := r.counts
	r.counts = map[string]float64{}
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)

	now := r.nowFunc()
	data := make([]cwtypes.MetricDatum, 0, len(names))
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(name),
			Value:      sdkaws.Float64(pending[name]),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  sdkaws.Time(now),
		})
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(data))
		_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  sdkaws.String(r.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			r.restore(names[start:], pending)
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

func (r *MetricsRecorder) restore(names []string, pending map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.counts[name] += pending[name]
	}
}

// Run flushes every interval until ctx is done, then flushes once more with a short
// detached deadline.
func (r *MetricsRecorder) Run(ctx context.Context, interval time.Duration) {
	if r == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("metrics flush failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := r.Flush(final); err != nil {
				r.logger.Warn("final metrics flush failed", slog.String("error", err.Error()))
			}
			cancel()
			return
		}
	}
}
