package framing

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-talk/core/framing"

var logger = otelslog.NewLogger(scopeName)
