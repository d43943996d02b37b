package jobctl

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"botdash/internal/model"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error

	method      string
	url         string
	requestBody string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.method = req.Method
	m.url = req.URL.String()
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		m.requestBody = string(data)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name      string
		transport *mockTransport
		want      model.BotStatus
		wantErr   bool
	}{
		{
			name:      "running",
			transport: &mockTransport{body: `{"status":"running","pid":4242,"mode":"scrape"}`, statusCode: 200},
			want:      model.BotStatus{Status: model.BotRunning, PID: ptr(4242), Mode: "scrape"},
		},
		{
			name:      "idle",
			transport: &mockTransport{body: `{"status":"idle"}`, statusCode: 200},
			want:      model.BotStatus{Status: model.BotIdle},
		},
		{
			name:      "server error",
			transport: &mockTransport{body: "boom", statusCode: 500},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "invalid json",
			transport: &mockTransport{body: "<html>", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("http://bot:8000/", tt.transport)
			got, err := c.Status(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Status() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Status() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff("http://bot:8000/api/bot/status", tt.transport.url); diff != "" {
				t.Errorf("url mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	m := &mockTransport{body: `{"status":"started","pid":17,"mode":"send"}`, statusCode: 200}
	c := New("http://bot:8000", m)

	res, err := c.Start(context.Background(), "send")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if diff := cmp.Diff(StartResult{Status: "started", PID: 17, Mode: "send"}, res); diff != "" {
		t.Errorf("Start() mismatch (-want +got):\n%s", diff)
	}
	if m.method != http.MethodPost || m.requestBody != `{"mode":"send"}` {
		t.Errorf("request = %s %q", m.method, m.requestBody)
	}

	for _, tt := range []struct {
		body string
		want bool
	}{
		{body: `{"status":"stopped"}`, want: true},
		{body: `{"status":"not_running"}`, want: false},
	} {
		m := &mockTransport{body: tt.body, statusCode: 200}
		got, err := New("http://bot:8000", m).Stop(context.Background())
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
		if got != tt.want {
			t.Errorf("Stop() with %s = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestConfigAndStats(t *testing.T) {
	m := &mockTransport{body: `{"MAX_PRICE":"80","SEARCH_URL":"https://example.com"}`, statusCode: 200}
	c := New("http://bot:8000", m)

	cfg, err := c.Config(context.Background())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"MAX_PRICE": "80", "SEARCH_URL": "https://example.com"}, cfg); diff != "" {
		t.Errorf("Config() mismatch (-want +got):\n%s", diff)
	}

	m.body = `{"status":"updated"}`
	if err := c.UpdateConfig(context.Background(), map[string]string{"MAX_PRICE": "90"}); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if m.requestBody != `{"MAX_PRICE":"90"}` {
		t.Errorf("request body = %q", m.requestBody)
	}

	m.body = `{"scraped":12,"ai_filtered":12,"sent":5,"error":1}`
	st, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if diff := cmp.Diff(model.JobStats{Scraped: 12, AIFiltered: 12, Sent: 5, Error: 1}, st); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func ptr[T any](v T) *T { return &v }
