package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func serve(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("test", srv.URL+"/cgi-bin/api.sh", srv.Client())
}

func TestGetSuccess(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/api.sh", r.URL.Path)
		assert.Equal(t, "get_traffic", r.URL.Query().Get("action"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		w.Write([]byte(`{"success":true,"traffic":[{"bytes_sent":9007199254740993}]}`))
	})

	p, err := c.Get(context.Background(), "get_traffic", map[string][]string{"start_date": {"2024-01-01"}})
	require.NoError(t, err)
	rows := p["traffic"].([]any)
	n := rows[0].(map[string]any)["bytes_sent"].(json.Number)
	assert.Equal(t, "9007199254740993", n.String())
}

func TestGetErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name  string
		h     http.HandlerFunc
		check func(t *testing.T, err error)
	}{
		{
			name: "status",
			h:    func(w http.ResponseWriter, r *http.Request) { http.Error(w, "nope", http.StatusBadGateway) },
			check: func(t *testing.T, err error) {
				var te *TransportError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, http.StatusBadGateway, te.StatusCode)
			},
		},
		{
			name: "not json",
			h:    func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) },
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				assert.ErrorAs(t, err, &pe)
			},
		},
		{
			name: "empty",
			h:    func(w http.ResponseWriter, r *http.Request) {},
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				assert.ErrorAs(t, err, &pe)
			},
		},
		{
			name: "null",
			h:    func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("null")) },
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				assert.ErrorAs(t, err, &pe)
			},
		},
		{
			name: "application",
			h: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":false,"error":"database locked"}`))
			},
			check: func(t *testing.T, err error) {
				var ae *ApplicationError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, "database locked", ae.Message)
				assert.True(t, IsApplication(err))
			},
		},
		{
			name: "missing flag",
			h:    func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"devices":[]}`)) },
			check: func(t *testing.T, err error) {
				assert.True(t, IsApplication(err))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := serve(t, tc.h).Get(context.Background(), "get_devices", nil)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestGetNumericSuccessFlag(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":1,"devices":[]}`))
	})
	_, err := c.Get(context.Background(), "get_devices", nil)
	assert.NoError(t, err)
}

func TestGetUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient("gone", url, nil).Get(context.Background(), "get_devices", nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.StatusCode)
	assert.Contains(t, err.Error(), "gone: transport")
}

func TestPost(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "block_device", body["action"])
		w.Write([]byte(`{"success":true}`))
	})
	_, err := c.Post(context.Background(), map[string]any{"action": "block_device", "device_ip": "10.0.0.1", "block": true})
	assert.NoError(t, err)
}

func strategy(name string, v int, err error) Strategy[int] {
	return Strategy[int]{Name: name, Fetch: func(context.Context) (int, error) { return v, err }}
}

func TestChainFirstSuccessWins(t *testing.T) {
	out := Chain(context.Background(), discard, 0, []Strategy[int]{
		strategy("advanced", 0, &TransportError{Source: "advanced", StatusCode: 500}),
		strategy("legacy", 7, nil),
		strategy("never", 9, nil),
	})
	require.True(t, out.OK())
	assert.Equal(t, 7, out.Value)
	assert.Equal(t, "legacy", out.Source)
	assert.Len(t, out.Failures, 1)
}

func TestChainExhausted(t *testing.T) {
	e1 := &ProtocolError{Source: "a", Err: errors.New("bad")}
	e2 := &ApplicationError{Source: "b", Message: "failed"}
	out := Chain(context.Background(), discard, 0, []Strategy[int]{
		strategy("a", 0, e1),
		strategy("b", 0, e2),
	})
	assert.False(t, out.OK())
	assert.ErrorIs(t, out.Err, e1)
	assert.ErrorIs(t, out.Err, e2)
	assert.Empty(t, out.Source)
}

func TestChainEmpty(t *testing.T) {
	out := Chain[int](context.Background(), discard, 0, nil)
	assert.ErrorIs(t, out.Err, ErrNoSources)
}

func TestChainAttemptTimeoutAdvances(t *testing.T) {
	slow := Strategy[int]{Name: "slow", Fetch: func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	start := time.Now()
	out := Chain(context.Background(), discard, 20*time.Millisecond, []Strategy[int]{slow, strategy("fast", 1, nil)})
	require.True(t, out.OK())
	assert.Equal(t, "fast", out.Source)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, out.Failures[0], context.DeadlineExceeded)
}

func TestChainCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	first := Strategy[int]{Name: "first", Fetch: func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, context.Canceled
	}}
	second := Strategy[int]{Name: "second", Fetch: func(context.Context) (int, error) {
		calls++
		return 1, nil
	}}
	out := Chain(ctx, discard, 0, []Strategy[int]{first, second})
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, out.Failures)
}
