package streaming

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-talk/core/streaming"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	requestCounter, _  = meter.Int64Counter("stream.requests", metric.WithDescription("Number of streamed chat requests"))
	fragmentCounter, _ = meter.Int64Counter("stream.fragments", metric.WithDescription("Number of response fragments delivered"))
	failureCounter, _  = meter.Int64Counter("stream.failures", metric.WithDescription("Number of streamed chat requests that failed"))
)
