package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestTranscribe_OpenAI(t *testing.T) {
	var gotPath, gotAuth, gotModel string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			gotAudio, _ = io.ReadAll(f)
		}
		w.Write([]byte(`{"text":" Hello world. "}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "whisper-1"})
	if err != nil {
		t.Fatal(err)
	}
	text, err := c.Transcribe(context.Background(), []byte("RIFFdata"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != " Hello world. " {
		t.Errorf("expected untrimmed text, got %q", text)
	}
	if gotPath != "/audio/transcriptions" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotModel != "whisper-1" {
		t.Errorf("unexpected model %q", gotModel)
	}
	if string(gotAudio) != "RIFFdata" {
		t.Errorf("unexpected audio payload %q", gotAudio)
	}
}

func TestTranscribe_AzureConventions(t *testing.T) {
	var gotURL, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		gotKey = r.Header.Get("api-key")
		w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "az", Model: "whisper", APIVersion: "2024-06-01"})
	text, err := c.Transcribe(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("expected empty text, got %q", text)
	}
	if gotURL != "/openai/deployments/whisper/audio/transcriptions?api-version=2024-06-01" {
		t.Errorf("unexpected url %s", gotURL)
	}
	if gotKey != "az" {
		t.Errorf("expected api-key header, got %q", gotKey)
	}
}

func TestTranscribe_HTTPErrorCarriesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Transcribe(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("expected status and detail in error, got %v", err)
	}
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}
