package main

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/knowyourrights/knowyourrights/internal/config"
	"github.com/knowyourrights/knowyourrights/internal/location"
)

func TestNewLocator(t *testing.T) {
	static := newLocator(config.Config{LocationMode: config.LocationStatic, Latitude: 1.5, Longitude: -2.25})
	s, ok := static.(location.Static)
	if !ok {
		t.Fatalf("expected static locator, got %T", static)
	}
	if s.Coordinates.Latitude != 1.5 || s.Coordinates.Longitude != -2.25 {
		t.Fatalf("coordinates = %+v", s.Coordinates)
	}

	if _, ok := newLocator(config.Config{LocationMode: config.LocationIP, LocationURL: "http://127.0.0.1:1/json"}).(*location.IPLocator); !ok {
		t.Fatal("expected IP locator")
	}
	if l := newLocator(config.Config{LocationMode: config.LocationNone}); l != nil {
		t.Fatalf("expected nil locator, got %T", l)
	}
}

func TestNewLLMClient(t *testing.T) {
	if c := newLLMClient(config.Config{Model: "openai/gpt-4o-mini"}); c != nil {
		t.Fatal("expected no client without an API key")
	}
	if c := newLLMClient(config.Config{Model: "gpt-4o-mini", LLMAPIKey: "k"}); c != nil {
		t.Fatal("expected no client for a malformed model")
	}
	if c := newLLMClient(config.Config{Model: "mystery/model", LLMAPIKey: "k"}); c != nil {
		t.Fatal("expected no client for an unknown provider")
	}
	if c := newLLMClient(config.Config{Model: "openai/google/gemini-2.0-flash-001", LLMAPIKey: "k", LLMBaseURL: "https://openrouter.ai/api/v1"}); c == nil {
		t.Fatal("expected an OpenRouter client")
	}
}

func TestNewCaptureSourceDefaultsToFFmpeg(t *testing.T) {
	src, cleanup, err := newCaptureSource(config.Config{CaptureBackend: config.CaptureFFmpeg, FFmpegCommand: "ffmpeg"})
	if err != nil {
		t.Fatalf("newCaptureSource failed: %v", err)
	}
	defer cleanup()
	if src == nil {
		t.Fatal("expected a source")
	}
}

func TestStaticIndexUsesLearnAndAlertEndpoints(t *testing.T) {
	page, err := fs.ReadFile(staticFiles, "static/index.html")
	if err != nil {
		t.Fatalf("read index.html failed: %v", err)
	}
	for _, want := range []string{`"/api/learn?topic="`, `"/api/alerts?limit=10"`, `id="learn-form"`, `id="alerts"`} {
		if !strings.Contains(string(page), want) {
			t.Fatalf("index.html missing %s", want)
		}
	}
}
