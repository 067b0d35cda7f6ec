package sinks

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-onsai/core/sinks"

var logger = otelslog.NewLogger(scopeName)

