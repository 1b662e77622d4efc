package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-talk/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	turnCounter, _      = meter.Int64Counter("orchestrator.turns", metric.WithDescription("Messages sent to the chat endpoint"))
	duplicateCounter, _ = meter.Int64Counter("orchestrator.duplicate_replies", metric.WithDescription("Assistant replies dropped as duplicates"))
)
