package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func embeddingHandler(t *testing.T, vectors ...[]float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		resp := map[string]any{"model": "test-model"}
		data := make([]map[string]any, len(vectors))
		for i, v := range vectors {
			data[i] = map[string]any{"embedding": v, "index": i}
		}
		resp["data"] = data
		json.NewEncoder(w).Encode(resp)
	}
}

func TestURLNormalization(t *testing.T) {
	for _, input := range []string{
		"http://localhost:11434",
		"http://localhost:11434/",
		"http://localhost:11434/v1",
		"http://localhost:11434/v1/",
	} {
		client := NewClient(input, "", "m", 0, nil)
		if client.baseURL != "http://localhost:11434" {
			t.Errorf("baseURL(%q) = %q", input, client.baseURL)
		}
	}
}

func TestEmbed(t *testing.T) {
	server := httptest.NewServer(embeddingHandler(t, []float32{0.1, 0.2, 0.3}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "test-model", 3, nil)
	vec, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("vec = %v", vec)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	server := httptest.NewServer(embeddingHandler(t, []float32{1, 0}, []float32{0, 1}))
	defer server.Close()

	client := NewClient(server.URL, "", "test-model", 2, nil)
	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 2 || vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("vectors = %v", vectors)
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	client := NewClient("http://localhost:1", "", "m", 0, nil)
	vectors, err := client.EmbedBatch(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Fatalf("vectors=%v err=%v", vectors, err)
	}
}

func TestSingleTextSentAsString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if _, isArray := req["input"].([]any); isArray {
			t.Error("single text should be sent as a string")
		}
		embeddingHandler(t, []float32{0.5})(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "m", 1, nil)
	if _, err := client.Embed(context.Background(), "only"); err != nil {
		t.Fatal(err)
	}
}

func TestDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(embeddingHandler(t, []float32{0.1, 0.2}))
	defer server.Close()

	client := NewClient(server.URL, "", "m", 3, nil)
	if _, err := client.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestHTTPErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "m", 0, nil)
	if _, err := client.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		embeddingHandler(t, []float32{1})(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk-test", "m", 1, nil)
	if _, err := client.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
}

func TestTransientStatusRetried(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		embeddingHandler(t, []float32{1})(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "m", 1, nil)
	client.retry = retryPolicy{initial: time.Millisecond, ceiling: 5 * time.Millisecond, attempts: 2, factor: 2}
	if _, err := client.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("hits = %d, want one retry", n)
	}
}

func TestRejectedStatusFailsFast(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "m", 0, nil)
	client.retry = retryPolicy{initial: time.Millisecond, ceiling: 5 * time.Millisecond, attempts: 3, factor: 2}
	if _, err := client.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("hits = %d, 4xx must not be retried", n)
	}
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusBadRequest)
			return
		}
		embeddingHandler(t, []float32{1})(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "m", 1, nil)
	client.breaker = newBreaker(2, 10*time.Millisecond)
	for i := 0; i < 2; i++ {
		if _, err := client.Embed(context.Background(), "x"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if _, err := client.Embed(context.Background(), "x"); err != errEndpointSuspended {
		t.Fatalf("err = %v, want suspended circuit", err)
	}

	healthy.Store(true)
	time.Sleep(20 * time.Millisecond)
	if _, err := client.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("probe after cooldown failed: %v", err)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "m", 0, nil)
	client.httpClient.Timeout = 200 * time.Millisecond
	for i := 0; i < 6; i++ {
		client.Embed(context.Background(), "x")
	}
	if _, err := client.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected circuit-open error")
	}
}
