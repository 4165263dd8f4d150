package logging_test

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/notifyhub/feeddigest/internal/logging"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
		enabled       zapcore.Level
	}{
		{"info", "json", false, zapcore.InfoLevel},
		{"debug", "console", false, zapcore.DebugLevel},
		{"warn", "auto", false, zapcore.WarnLevel},
		{"loud", "json", true, 0},
		{"info", "xml", true, 0},
	}
	for _, tc := range tests {
		t.Run(tc.level+"/"+tc.format, func(t *testing.T) {
			logger, err := logging.New(tc.level, tc.format)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if !logger.Core().Enabled(tc.enabled) {
				t.Errorf("expected level %v enabled", tc.enabled)
			}
			if logger.Core().Enabled(tc.enabled - 1) {
				t.Errorf("expected level %v disabled", tc.enabled-1)
			}
		})
	}
}
