package httpclient

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

	"github.com/example/imageclassify/internal/imageprocessor"
)

var testLabels = []string{"apple", "bear", "cup"}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClassifySendsMultipartAndParsesResult(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file"})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "png-bytes" || header.Filename != "job-1" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unexpected upload"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"prediction":      []float32{0.1, 0.2, 0.7},
			"predicted_label": "cup",
		})
	})

	classifier, err := NewClassifier(Options{URL: server.URL, Labels: testLabels, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}

	prediction, err := classifier.Classify(context.Background(), "job-1", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if prediction.Label != "cup" || len(prediction.Scores) != 3 {
		t.Fatalf("unexpected prediction %+v", prediction)
	}
}

func TestClassifyReportsRemoteErrors(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error processing image"})
	})
	classifier, err := NewClassifier(Options{URL: server.URL, Labels: testLabels})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := classifier.Classify(context.Background(), "job", strings.NewReader("x")); !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
}

func TestClassifyRejectsInconsistentAnswer(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"prediction":      []float32{0.9, 0.05, 0.05},
			"predicted_label": "bear",
		})
	})
	classifier, err := NewClassifier(Options{URL: server.URL, Labels: testLabels})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := classifier.Classify(context.Background(), "job", strings.NewReader("x")); !errors.Is(err, imageprocessor.ErrInvalidPrediction) {
		t.Fatalf("expected ErrInvalidPrediction, got %v", err)
	}
}

func TestClassifyHonoursContext(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	classifier, err := NewClassifier(Options{URL: server.URL, Labels: testLabels})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := classifier.Classify(ctx, "job", strings.NewReader("x")); !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote on timeout, got %v", err)
	}
}

func TestNewClassifierValidatesOptions(t *testing.T) {
	if _, err := NewClassifier(Options{Labels: testLabels}); err == nil {
		t.Fatal("expected missing url to fail")
	}
	if _, err := NewClassifier(Options{URL: "http://example.invalid"}); err == nil {
		t.Fatal("expected missing labels to fail")
	}
}
