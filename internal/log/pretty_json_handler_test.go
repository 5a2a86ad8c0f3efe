package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrettyJSONHandler(t *testing.T) {
	fixedTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	options := func(pretty bool) *PrettyJSONHandlerOptions {
		return &PrettyJSONHandlerOptions{
			HandlerOptions: slog.HandlerOptions{
				ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey {
						return slog.Time(a.Key, fixedTime)
					}
					return a
				},
			},
			PrettyPrint: pretty,
		}
	}

	for name, pretty := range map[string]bool{"PrettyPrintEnabled": true, "PrettyPrintDisabled": false} {
		t.Run(name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := slog.New(NewPrettyJSONHandler(buf, options(pretty)))

			logger.Info("test message", "resource", "AuroraCluster")

			got := buf.String()
			assert.True(t, strings.HasSuffix(got, "\n"), "want output to end with a newline")
			assert.Equal(t, pretty, strings.Contains(got, "\n  "), "want indentation only when pretty printing")

			var data map[string]any
			require.NoError(t, json.Unmarshal([]byte(got), &data))
			assert.Equal(t, "INFO", data["level"])
			assert.Equal(t, "test message", data["msg"])
			assert.Equal(t, "2024-01-01T00:00:00Z", data["time"])
			assert.Equal(t, "AuroraCluster", data["resource"])
		})
	}

	t.Run("KeepsAttributesOfDerivedLoggers", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := slog.New(NewPrettyJSONHandler(buf, options(true))).With("stack", "MonicaCrmStack").WithGroup("apply")

		logger.Info("applied", "resource", "EcsCluster")

		var data map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
		assert.Equal(t, "MonicaCrmStack", data["stack"])
		assert.Equal(t, map[string]any{"resource": "EcsCluster"}, data["apply"])
	})

	t.Run("NilOptions", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := slog.New(NewPrettyJSONHandler(buf, nil))

		logger.Info("test message")

		assert.NotZero(t, buf.Len())
	})
}
