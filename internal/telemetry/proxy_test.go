package telemetry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/istio-waypoint-beacon/internal/telemetry"
)

func TestFormatLabels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		labels map[string]string
		want   string
	}{
		{
			name:   "empty",
			labels: map[string]string{},
			want:   "",
		},
		{
			name:   "single label",
			labels: map[string]string{"a": "1"},
			want:   "a=1",
		},
		{
			name: "sorted by key",
			labels: map[string]string{
				"zeta":  "last",
				"alpha": "first",
				"mid":   "middle",
			},
			want: "alpha=first,mid=middle,zeta=last",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, telemetry.FormatLabels(testCase.labels))
		})
	}
}

func TestProxySpec(t *testing.T) {
	t.Parallel()

	spec := telemetry.ProxySpec(map[string]string{
		"telemetry.k8s.lex.la/mymodel.beacon.telemetry": "aggregated",
	})

	assert.Equal(t, "metrics-proxy", spec.Name)
	assert.Equal(t, "Metrics Broadcast Proxy", spec.Summary)
	assert.Equal(t,
		"metrics-proxy --labels telemetry.k8s.lex.la/mymodel.beacon.telemetry=aggregated",
		spec.Command,
	)
}

func TestLogSupervisor(t *testing.T) {
	t.Parallel()

	supervisor := &telemetry.LogSupervisor{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	err := supervisor.Ensure(context.Background(), telemetry.ProxySpec(nil))
	require.NoError(t, err)
}
