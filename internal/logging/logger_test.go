package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/zzenonn/zfetch/internal/config"
)

func TestInitLogger(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	tests := []struct {
		level string
		want  log.Level
	}{
		{"trace", log.TraceLevel},
		{"DEBUG", log.DebugLevel},
		{"info", log.InfoLevel},
		{"warning", log.WarnLevel},
		{"", log.ErrorLevel},
		{"verbose", log.ErrorLevel},
	}
	for _, tt := range tests {
		InitLogger(&config.Config{LogLevel: tt.level})
		require.Equal(t, tt.want, log.GetLevel(), "level %q", tt.level)
	}
}
