package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTelegramNotifierPhoto(t *testing.T) {
	var (
		caption string
		chatID  string
		photo   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendPhoto") {
			t.Fatalf("path should end with sendPhoto, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		caption = r.FormValue("caption")
		chatID = r.FormValue("chat_id")
		file, _, err := r.FormFile("photo")
		if err != nil {
			t.Fatalf("photo part missing: %v", err)
		}
		photo, _ = io.ReadAll(file)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Item: "Recoil Case", Text: "Recoil Case: -0.22₽ -0.04%", Image: []byte("png-bytes")}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}
	if chatID != "chat" {
		t.Fatalf("chat_id mismatch: %q", chatID)
	}
	if caption != note.Text {
		t.Fatalf("caption mismatch: %q", caption)
	}
	if string(photo) != "png-bytes" {
		t.Fatalf("photo bytes mismatch: %q", photo)
	}
}

func TestTelegramNotifierTextFallback(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "sendMessage") {
			t.Fatalf("path should end with sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Text: "hello"}); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}
	if received["chat_id"] != "chat" || received["text"] != "hello" {
		t.Fatalf("unexpected payload: %#v", received)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"ok false": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
		},
		"http 401": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Unauthorized"})
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
			err := notifier.Notify(context.Background(), Notification{Text: "x", Image: []byte("png")})
			if !errors.Is(err, ErrDelivery) {
				t.Fatalf("expected ErrDelivery, got %v", err)
			}
		})
	}
}

func TestTelegramNotifierHidesToken(t *testing.T) {
	notifier := NewTelegramNotifier("super-secret", "chat", "http://127.0.0.1:1", 200*time.Millisecond, testLogger())
	err := notifier.Notify(context.Background(), Notification{Text: "x"})
	if err == nil {
		t.Fatal("unreachable endpoint should fail")
	}
	if strings.Contains(err.Error(), "super-secret") {
		t.Fatalf("error leaks bot token: %v", err)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("₽₽₽", 2); got != "₽₽" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := truncateRunes("abc", 5); got != "abc" {
		t.Fatalf("short strings must be kept, got %q", got)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
