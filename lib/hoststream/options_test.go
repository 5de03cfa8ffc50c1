package hoststream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Options
	}{
		{
			name: "legacy flags",
			args: []string{"--host", "127.0.0.1", "--port", "5000", "--workerId", "w1", "--requestId", "r1", "--grpcMaxMessageLength", "2147483647"},
			want: Options{Endpoint: "http://127.0.0.1:5000", WorkerID: "w1", RequestID: "r1", MaxMessageLength: 2147483647},
		},
		{
			name: "functions flags win",
			args: []string{
				"--host", "127.0.0.1", "--port", "5000", "--workerId", "old",
				"--functions-uri", "http://localhost:7071/", "--functions-worker-id", "new",
				"--functions-request-id", "req", "--functions-grpc-max-message-length", "1024",
			},
			want: Options{Endpoint: "http://localhost:7071/", WorkerID: "new", RequestID: "req", MaxMessageLength: 1024},
		},
		{
			name: "unknown flags and positionals are ignored",
			args: []string{"worker.dll", "--functions-uri=unix:///run/host.sock", "--verbose", "--some-other", "x"},
			want: Options{Endpoint: "unix:///run/host.sock"},
		},
		{
			name: "ipv6 host",
			args: []string{"--host", "::1", "--port", "9"},
			want: Options{Endpoint: "http://[::1]:9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArgs_NoEndpoint(t *testing.T) {
	_, err := ParseArgs([]string{"--host", "127.0.0.1"})
	assert.ErrorIs(t, err, ErrNoEndpoint)

	_, err = ParseArgs(nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestParseArgs_BadValue(t *testing.T) {
	_, err := ParseArgs([]string{"--port", "not-a-number", "--host", "h"})
	assert.Error(t, err)
}
