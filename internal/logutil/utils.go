// Package logutil carries small zap helpers shared across the engine.
package logutil

import (
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arenadb/arenasql/internal/arenaerrors"
)

// Values groups a set of zap.Fields under a single "values" object field.
// Zero reflection, same speed as inline fields.
func Values(fields ...zap.Field) zap.Field {
	return zap.Object("values", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for _, f := range fields {
			f.AddTo(enc)
		}
		return nil
	}))
}

// Err renders an error with its engine error kind and SQLSTATE when it
// carries them, so log lines and wire responses stay correlatable.
func Err(err error) zap.Field {
	var ae *arenaerrors.Error
	if errors.As(err, &ae) {
		return zap.Object("error", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
			enc.AddString("kind", string(ae.Kind))
			enc.AddString("code", ae.Code)
			enc.AddString("message", ae.Message)
			return nil
		}))
	}
	return zap.Error(err)
}
