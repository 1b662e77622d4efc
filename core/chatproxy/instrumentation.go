package chatproxy

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-talk/core/chatproxy"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	chatRequestCounter, _ = meter.Int64Counter("chatproxy.requests", metric.WithDescription("Chat requests received"))
	chatFailureCounter, _ = meter.Int64Counter("chatproxy.failures", metric.WithDescription("Chat requests that failed before streaming"))
)
