package logger

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zapcore"
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (suite *LoggerTestSuite) TestNewLogger() {
	logger, err := NewLogger("info")
	suite.NoError(err)
	suite.NotNil(logger)
	suite.NotNil(logger.Logger)
}

func (suite *LoggerTestSuite) TestLevelSelection() {
	logger, err := NewLogger("debug")
	suite.Require().NoError(err)
	suite.True(logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("error")
	suite.Require().NoError(err)
	suite.False(logger.Core().Enabled(zapcore.WarnLevel))
	suite.True(logger.Core().Enabled(zapcore.ErrorLevel))
}

func (suite *LoggerTestSuite) TestUnknownLevelFallsBackToInfo() {
	suite.Equal(zapcore.InfoLevel, parseLevel("verbose"))
	suite.Equal(zapcore.WarnLevel, parseLevel(" WARN "))
}

func (suite *LoggerTestSuite) TestLoggerSyncNilLogger() {
	logger := &Logger{Logger: nil}

	// Sync should not panic and should return nil for a nil inner logger
	err := logger.Sync()
	suite.NoError(err)
}

func (suite *LoggerTestSuite) TestLoggerLogging() {
	logger, err := NewLogger("debug")
	suite.NoError(err)

	// These should not panic
	logger.Info("test info message")
	logger.Debug("test debug message")
	logger.Warn("test warn message")
	logger.Error("test error message")
}
