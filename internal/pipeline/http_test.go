package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notifyhub/feeddigest/internal/pipeline"
)

func TestLLMClient(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)                                                             //nolint:errcheck
		w.Write([]byte(`{"choices":[{"message":{"content":"  short summary  "},"finish_reason":"stop"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := pipeline.NewLLMClient(pipeline.LLMConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m"})
	out, err := c.Summarize(context.Background(), "long text")
	if err != nil {
		t.Fatal(err)
	}
	if out != "short summary" {
		t.Errorf("unexpected output %q", out)
	}
	if gotAuth != "Bearer k" || gotPath != "/v1/chat/completions" {
		t.Errorf("unexpected request auth=%q path=%q", gotAuth, gotPath)
	}
	if gotReq.Model != "m" || len(gotReq.Messages) != 2 || gotReq.Messages[1].Content != "long text" {
		t.Errorf("unexpected payload %+v", gotReq)
	}
}

func TestLLMClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`},
		{"empty", http.StatusOK, `{"choices":[{"message":{"content":""}}]}`},
		{"api error", http.StatusOK, `{"error":{"message":"bad model"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body)) //nolint:errcheck
			}))
			defer srv.Close()
			c := pipeline.NewLLMClient(pipeline.LLMConfig{APIKey: "k", BaseURL: srv.URL})
			if _, err := c.Transform(context.Background(), "x"); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	c := pipeline.NewLLMClient(pipeline.LLMConfig{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.Transform(context.Background(), "x"); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestTelegraphPublisher(t *testing.T) {
	var got struct {
		AccessToken string          `json:"access_token"`
		Title       string          `json:"title"`
		Content     []pipeline.Node `json:"content"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/createPage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)                                         //nolint:errcheck
		w.Write([]byte(`{"ok":true,"result":{"url":"https://telegra.ph/T-05-01"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	p := pipeline.NewTelegraphPublisher(srv.URL, "tok", time.Second)
	url, err := p.Publish(context.Background(), "T", "first\n\nsecond")
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://telegra.ph/T-05-01" {
		t.Errorf("unexpected url %q", url)
	}
	if got.AccessToken != "tok" || got.Title != "T" || len(got.Content) != 2 {
		t.Errorf("unexpected request %+v", got)
	}

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"ACCESS_TOKEN_INVALID"}`)) //nolint:errcheck
	}))
	defer fail.Close()
	if _, err := pipeline.NewTelegraphPublisher(fail.URL, "bad", time.Second).Publish(context.Background(), "T", "x"); err == nil {
		t.Fatal("expected error for ok=false")
	}
}

func TestParagraphsLimit(t *testing.T) {
	body := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40) + "\n\n" + strings.Repeat("c", 40)
	nodes := pipeline.Paragraphs(body, 60)
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if s := nodes[1].Children[0].(string); !strings.HasSuffix(s, "…") || len(strings.TrimSuffix(s, "…")) != 20 {
		t.Errorf("unexpected truncated node %q", s)
	}
	if got := pipeline.Paragraphs("", 10); len(got) != 1 {
		t.Errorf("expected placeholder node, got %d", len(got))
	}
}

func TestWhisperTranscriber(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "audio.m4a")
	if err := os.WriteFile(audio, []byte("fake-audio"), 0o600); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("unexpected model %q", r.FormValue("model"))
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if string(data) != "fake-audio" {
				t.Errorf("unexpected upload %q", data)
			}
		}
		w.Write([]byte(`{"text":"hello"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	tr := pipeline.NewWhisperTranscriber(srv.URL, "", "whisper-1", time.Second)
	text, err := tr.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello" {
		t.Errorf("unexpected text %q", text)
	}
}
