// Package remotewrite periodically ships domain metrics to a Prometheus
// remote_write endpoint for hosted telemetry. Disabled by default; a push
// failure never affects the billing workflows that produced the metrics.
package remotewrite

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/flowvane/creditdesk/internal/config"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const defaultPushTimeout = 5 * time.Second

// Pusher ships a gathered metric snapshot to the remote_write endpoint.
type Pusher struct {
	endpoint   string
	authToken  string
	gatherer   prometheus.Gatherer
	httpClient *http.Client
	log        *zap.Logger
}

// NewPusher builds a pusher from config. Misconfiguration is logged and
// returns nil rather than failing startup.
func NewPusher(cfg config.Config, log *zap.Logger) *Pusher {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.RemoteWrite.Enabled {
		return nil
	}
	endpoint := strings.TrimSpace(cfg.RemoteWrite.Endpoint)
	if endpoint == "" {
		log.Warn("metrics remote write disabled: endpoint is required")
		return nil
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		log.Warn("metrics remote write disabled: invalid endpoint", zap.Error(err))
		return nil
	}

	return &Pusher{
		endpoint:   endpoint,
		authToken:  strings.TrimSpace(cfg.RemoteWrite.AuthToken),
		gatherer:   prometheus.DefaultGatherer,
		httpClient: &http.Client{Timeout: defaultPushTimeout},
		log:        log.Named("remotewrite"),
	}
}

// Run starts the periodic push loop until ctx is cancelled.
func (p *Pusher) Run(ctx context.Context, interval time.Duration) {
	if p == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Push(ctx); err != nil {
				p.log.Warn("metrics push failed", zap.Error(err))
			}
		}
	}
}

// Push gathers and sends the current metric snapshot.
func (p *Pusher) Push(ctx context.Context) error {
	if p == nil {
		return nil
	}

	families, err := p.gatherer.Gather()
	if err != nil {
		return err
	}
	series := buildSeries(families, time.Now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	req := &prompb.WriteRequest{Timeseries: series}
	payload, err := proto.Marshal(protoadapt.MessageV2Of(req))
	if err != nil {
		return err
	}

	compressed := snappy.Encode(nil, payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("remote write returned %s", resp.Status)
	}
	return nil
}

func buildSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	series := make([]prompb.TimeSeries, 0, len(families))
	for _, family := range families {
		switch family.GetType() {
		case dto.MetricType_COUNTER, dto.MetricType_GAUGE:
		default:
			continue
		}
		for _, metric := range family.GetMetric() {
			value, ok := sampleValue(family.GetType(), metric)
			if !ok {
				continue
			}
			labels := make([]prompb.Label, 0, len(metric.GetLabel())+1)
			labels = append(labels, prompb.Label{Name: "__name__", Value: family.GetName()})
			for _, label := range metric.GetLabel() {
				labels = append(labels, prompb.Label{Name: label.GetName(), Value: label.GetValue()})
			}
			sort.Slice(labels, func(i, j int) bool {
				return labels[i].Name < labels[j].Name
			})

			series = append(series, prompb.TimeSeries{
				Labels:  labels,
				Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
			})
		}
	}
	return series
}

func sampleValue(metricType dto.MetricType, metric *dto.Metric) (float64, bool) {
	if metric == nil {
		return 0, false
	}
	switch metricType {
	case dto.MetricType_COUNTER:
		if metric.GetCounter() == nil {
			return 0, false
		}
		return metric.GetCounter().GetValue(), true
	case dto.MetricType_GAUGE:
		if metric.GetGauge() == nil {
			return 0, false
		}
		return metric.GetGauge().GetValue(), true
	default:
		return 0, false
	}
}

// Module starts the pusher under the fx lifecycle when enabled.
var Module = fx.Module("observability.remotewrite",
	fx.Provide(NewPusher),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, cfg config.Config, p *Pusher) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go p.Run(ctx, time.Duration(cfg.RemoteWrite.Interval)*time.Second)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
