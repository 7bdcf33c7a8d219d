package llm

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atinylittleshell/autotab/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIClient(Options{
		BaseURL: server.URL + "/v1",
		Timeout: 2 * time.Second,
		Headers: map[string]string{"X-Title": "autotab"},
	}, zap.NewNop())
}

func defaultParams() Params {
	return Params{Model: "gpt-3.5-turbo-instruct", Temperature: 0.3, MaxTokens: 50}
}

func TestCompleteSendsExactBody(t *testing.T) {
	var body map[string]any
	var path, auth, title string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		title = r.Header.Get("X-Title")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"text":" brown fox.","index":0}]}`)
	})

	text, err := client.Complete(context.Background(), "The quick ", defaultParams(), "sk-test")
	require.NoError(t, err)
	assert.Equal(t, " brown fox.", text)

	assert.Equal(t, "/v1/completions", path)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "autotab", title)

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"max_tokens", "model", "prompt", "stop", "temperature"}, keys)
	assert.Equal(t, "The quick ", body["prompt"])
	assert.Equal(t, float64(50), body["max_tokens"])
	assert.Equal(t, []any{"\n", ".", "?", "!"}, body["stop"])
}

func TestCompleteSendsZeroTemperature(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		_, _ = io.WriteString(w, `{"choices":[{"text":"x"}]}`)
	})

	params := defaultParams()
	params.Temperature = 0
	_, err := client.Complete(context.Background(), "hello world", params, "sk-test")
	require.NoError(t, err)

	temperature, ok := body["temperature"].(float64)
	require.True(t, ok, "temperature must be present in the body")
	assert.InDelta(t, 0, temperature, 1e-30)
}

func TestCompleteFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		credential string
		kind       failure.Kind
		status     int
	}{
		{
			name:       "missing credential",
			handler:    func(w http.ResponseWriter, r *http.Request) { t.Error("no request expected") },
			credential: "",
			kind:       failure.KindConfig,
		},
		{
			name: "unauthorized with api error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
			},
			credential: "sk-bad",
			kind:       failure.KindTransport,
			status:     http.StatusUnauthorized,
		},
		{
			name: "server error with plain body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = io.WriteString(w, "upstream down")
			},
			credential: "sk-test",
			kind:       failure.KindTransport,
			status:     http.StatusBadGateway,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"id":"cmpl-1"}`)
			},
			credential: "sk-test",
			kind:       failure.KindProtocol,
		},
		{
			name: "choice without text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[{"index":0,"finish_reason":"stop"}]}`)
			},
			credential: "sk-test",
			kind:       failure.KindProtocol,
		},
		{
			name: "choice with null text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[{"text":null,"index":0}]}`)
			},
			credential: "sk-test",
			kind:       failure.KindProtocol,
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[`)
			},
			credential: "sk-test",
			kind:       failure.KindProtocol,
		},
		{
			name: "wrong field types",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":"nope"}`)
			},
			credential: "sk-test",
			kind:       failure.KindProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.Complete(context.Background(), "hello world", defaultParams(), tt.credential)
			require.Error(t, err)
			assert.Equal(t, tt.kind, failure.KindOf(err))

			if tt.status != 0 {
				var transportErr *failure.TransportError
				require.ErrorAs(t, err, &transportErr)
				assert.Equal(t, tt.status, transportErr.Status)
			}
		})
	}
}

func TestCompleteTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewOpenAIClient(Options{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := client.Complete(context.Background(), "hello world", defaultParams(), "sk-test")
	require.Error(t, err)
	assert.Equal(t, failure.KindTransport, failure.KindOf(err))
}

func TestCompleteCancelledIsStale(t *testing.T) {
	started := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.Complete(ctx, "hello world", defaultParams(), "sk-test")
	require.Error(t, err)
	assert.Equal(t, failure.KindStale, failure.KindOf(err))
}

func TestCompleteAcceptsEmptyText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"text":"","index":0}]}`)
	})

	text, err := client.Complete(context.Background(), "hello world", defaultParams(), "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestCompleteReusesConnections(t *testing.T) {
	var opened atomic.Int32
	var mu sync.Mutex
	var auth []string
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		_, _ = io.WriteString(w, `{"choices":[{"text":" again.","index":0}]}`)
	}))
	server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			opened.Add(1)
		}
	}
	server.Start()
	defer server.Close()

	client := NewOpenAIClient(Options{BaseURL: server.URL, Timeout: 2 * time.Second}, nil)
	credentials := []string{"sk-one", "sk-one", "sk-two"}
	for i := 0; i < 10; i++ {
		text, err := client.Complete(context.Background(), "hello world", defaultParams(), credentials[i%len(credentials)])
		require.NoError(t, err)
		assert.Equal(t, " again.", text)
	}

	assert.Equal(t, int32(1), opened.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, auth, 10)
	assert.Equal(t, "Bearer sk-one", auth[0])
	assert.Equal(t, "Bearer sk-two", auth[2])
	assert.Equal(t, "Bearer sk-one", auth[3])
}
