package logutil

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileName = "framesense.log"
	maxSizeMB   = 10
	maxBackups  = 3
)

// Setup builds the application logger. Console output goes to stderr;
// when file logging is enabled, entries are additionally written to a
// size-rotated log file under dir (10MB, max 3 backups).
func Setup(enableFileLogging bool, dir string) *zap.Logger {
	consoleEnc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), zapcore.InfoLevel),
	}

	if enableFileLogging {
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(dir, logFileName),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		})
		cores = append(cores, zapcore.NewCore(fileEnc, w, zapcore.DebugLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	zap.ReplaceGlobals(logger)
	return logger
}

// RedactKey masks an API key, leaving first/last 4 chars: xxxx...yyyy
func RedactKey(k string) string {
	if len(k) <= 8 {
		return "********"
	}
	return fmt.Sprintf("%s...%s", k[:4], k[len(k)-4:])
}
