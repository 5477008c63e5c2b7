package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mpataki/docforge/internal/logging"
)

func completionServer(t *testing.T, reply string, seen *completionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}, "finish_reason": "stop"},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegenerate(t *testing.T) {
	var seen completionRequest
	reply := "Here is the fix:\n```lua\ndoc:add_heading(\"Fixed\", 1)\n```\nDone."
	srv := completionServer(t, reply, &seen)

	c := NewClient(Config{Endpoint: srv.URL + "/v1/", Model: "m1", APIKey: "secret", Logger: logging.Discard()})
	got, err := c.Regenerate(context.Background(), "sns.barplot()", "name 'sns' is not defined")
	if err != nil {
		t.Fatal(err)
	}
	if got != `doc:add_heading("Fixed", 1)` {
		t.Errorf("script = %q", got)
	}
	if seen.Model != "m1" || len(seen.Messages) != 2 {
		t.Fatalf("request = %+v", seen)
	}
	user := seen.Messages[1].Content
	if !strings.Contains(user, "name 'sns' is not defined") || !strings.Contains(user, "sns.barplot()") {
		t.Errorf("prompt does not carry the error and script:\n%s", user)
	}
}

func TestEmptyCompletion(t *testing.T) {
	srv := completionServer(t, "   ", nil)
	c := NewClient(Config{Endpoint: srv.URL + "/v1", APIKey: "secret", Logger: logging.Discard()})
	if _, err := c.Generate(context.Background(), "a proposal"); !errors.Is(err, ErrNoScript) {
		t.Errorf("err = %v, want ErrNoScript", err)
	}
}

func TestEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Logger: logging.Discard()})
	_, err := c.Regenerate(context.Background(), "x", "y")
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("err = %v", err)
	}
}

func TestExtractScript(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"lua fence preferred", "```text\nnotes\n```\n```lua\nprint(1)\n```", "print(1)"},
		{"first fence", "```\nprint(2)\n```", "print(2)"},
		{"bare text", "  print(3)\n", "print(3)"},
		{"uppercase tag", "```Lua\nprint(4)\n```", "print(4)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractScript(tt.in); got != tt.want {
				t.Errorf("ExtractScript = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallLogRecordsEachCall(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		call      func(*Client, context.Context) error
		kind      string
		script    string
		wantError string
	}{
		{
			name:  "generate",
			reply: "```lua\ndoc:add_heading(\"Plan\", 1)\n```",
			call: func(c *Client, ctx context.Context) error {
				_, err := c.Generate(ctx, "a staffing plan")
				return err
			},
			kind:   "generate",
			script: `doc:add_heading("Plan", 1)`,
		},
		{
			name:  "empty repair",
			reply: "  ",
			call: func(c *Client, ctx context.Context) error {
				_, err := c.Regenerate(ctx, "x()", "attempt to call a nil value")
				return err
			},
			kind:      "regenerate",
			wantError: ErrNoScript.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, tt.reply, nil)
			c := NewClient(Config{Endpoint: srv.URL + "/v1", Model: "m1", APIKey: "secret", Logger: logging.Discard()})

			var buf bytes.Buffer
			ctx := WithCallLog(context.Background(), NewCallLog(&buf))
			tt.call(c, ctx)

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(lines) != 1 {
				t.Fatalf("logged %d lines: %q", len(lines), buf.String())
			}
			var got Call
			if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
				t.Fatal(err)
			}
			if got.Kind != tt.kind || got.Model != "m1" || got.Script != tt.script || got.Error != tt.wantError {
				t.Errorf("call = %+v", got)
			}
			if got.Prompt == "" || got.Response != tt.reply {
				t.Errorf("prompt or response missing: %+v", got)
			}
		})
	}
}

func TestCallLogRecordsEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	c := NewClient(Config{Endpoint: srv.URL, Logger: logging.Discard()})
	if _, err := c.Regenerate(WithCallLog(context.Background(), NewCallLog(&buf)), "x", "y"); err == nil {
		t.Fatal("expected an error")
	}
	var got Call
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.Error, "rate limited") || got.Response != "" {
		t.Errorf("call = %+v", got)
	}
}
