package analytics

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileDataCollector struct {
	file   *os.File
	logger *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileDataCollector{
		file:   logFile,
		logger: zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) RecordActionSuccess(wfName string, executionID string, actionName string, data map[string]any) {
	lc.logger.Info("success", zap.String("name", wfName), zap.String("id", executionID), zap.String("action", actionName), zap.Any("data", data))
}

func (lc *LogFileDataCollector) RecordActionFailure(wfName string, executionID string, actionName string, reason string) {
	lc.logger.Info("failure", zap.String("name", wfName), zap.String("id", executionID), zap.String("action", actionName), zap.String("reason", reason))
}

func (lc *LogFileDataCollector) Close() error {
	_ = lc.logger.Sync()
	return lc.file.Close()
}
