package obslog

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// New builds a production zap SugaredLogger for the orchestrator binary.
func New() (*zap.SugaredLogger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// NewLogr adapts a zap.Logger to logr.Logger for components (trust
// projector, context source) that accept the logr interface, the way
// controller-runtime-adjacent code does in the teacher's stack.
func NewLogr(z *zap.Logger) logr.Logger {
	return zapr.NewLogger(z)
}

// Sugar logs a structured event at info level using a Fields set.
func Sugar(logger *zap.SugaredLogger, msg string, fields Fields) {
	logger.Infow(msg, flatten(fields)...)
}

// SugarError logs a structured event at error level using a Fields set.
func SugarError(logger *zap.SugaredLogger, msg string, fields Fields) {
	logger.Errorw(msg, flatten(fields)...)
}

func flatten(fields Fields) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
