package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New はアプリ共通のzapロガーを生成する。
// mode: "dev" はコンソール出力、それ以外はJSON出力
func New(mode string) (*zap.Logger, error) {
	if mode == "dev" {
		return zap.NewDevelopment()
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	l, err := config.Build()
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("service_name", "credit-backend")), nil
}
