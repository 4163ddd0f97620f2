package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatbridge/internal/domain"
)

func TestSendMessage_EnvelopePassedUnchanged(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(wireResponse{Output: []wirePart{{Type: "text", Text: "hi there"}}})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL, APIKey: "secret"})
	env := domain.PromptEnvelope{Parts: []domain.ContentPart{
		domain.TextPart("hello"),
		domain.ImagePart("photos/p.jpg", "data:image/jpeg;base64,YWJj"),
	}}

	reply, err := c.SendMessage(context.Background(), env, "user-1")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if got.User != "user-1" {
		t.Fatalf("expected user key forwarded, got %q", got.User)
	}
	if len(got.Input) != 2 {
		t.Fatalf("expected 2 input parts, got %d", len(got.Input))
	}
	if got.Input[0].Type != "text" || got.Input[0].Text != "hello" {
		t.Fatalf("text part not forwarded: %+v", got.Input[0])
	}
	if got.Input[1].Type != "image" || got.Input[1].DataURL != "data:image/jpeg;base64,YWJj" {
		t.Fatalf("image part not forwarded: %+v", got.Input[1])
	}

	if text := reply.RenderText(); text != "hi there" {
		t.Fatalf("expected reply text %q, got %q", "hi there", text)
	}
}

func TestSendMessage_OrderPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{Output: []wirePart{
			{Type: "text", Text: "a"},
			{Type: "image", Name: "x.png", DataURL: "data:image/png;base64,eA=="},
			{Type: "text", Text: "b"},
		}})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL})
	reply, err := c.SendMessage(context.Background(), domain.PromptEnvelope{
		Parts: []domain.ContentPart{domain.TextPart("q")},
	}, "u")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(reply.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(reply.Parts))
	}
	if text := reply.RenderText(); text != "a\nb" {
		t.Fatalf("expected rendered text %q, got %q", "a\nb", text)
	}
}

func TestSendMessage_ErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL})
	_, err := c.SendMessage(context.Background(), domain.PromptEnvelope{
		Parts: []domain.ContentPart{domain.TextPart("q")},
	}, "u")
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL})
	if err := c.Healthy(context.Background()); err != nil {
		t.Fatalf("Healthy: %v", err)
	}

	bad := NewClient(ClientConfig{APIBase: srv.URL + "/missing"})
	if err := bad.Healthy(context.Background()); err == nil {
		t.Fatal("expected health check failure")
	}
}
