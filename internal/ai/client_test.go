package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEvaluateAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ideas" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var submission Submission
		if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
			t.Errorf("decode submission: %v", err)
		}
		if submission.IdeaName != "Smart Tutor" {
			t.Errorf("unexpected idea name %q", submission.IdeaName)
		}
		_ = json.NewEncoder(w).Encode(Evaluation{
			Status: StatusAccepted,
			BusinessModel: map[string][]string{
				"Key Partners": {"Universities", "Schools"},
			},
			Summary: "An AI tutoring companion.",
		})
	}))
	defer server.Close()

	client := New(server.URL)
	evaluation, err := client.Evaluate(context.Background(), Submission{IdeaName: "Smart Tutor"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if evaluation.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", evaluation.Status)
	}
	if len(evaluation.BusinessModel["Key Partners"]) != 2 {
		t.Fatalf("unexpected canvas: %+v", evaluation.BusinessModel)
	}
}

func TestEvaluateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Evaluation{
			Status:          StatusRejected,
			SimilarityScore: 0.92,
			NearestMatch:    "Existing Tutor App",
			ImprovementTips: map[string][]string{"problem": {"Narrow the audience."}},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	evaluation, err := client.Evaluate(context.Background(), Submission{IdeaName: "Tutor"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if evaluation.Status != StatusRejected || evaluation.NearestMatch != "Existing Tutor App" {
		t.Fatalf("unexpected evaluation: %+v", evaluation)
	}
}

func TestEvaluateInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Evaluation{
			Status: StatusInvalid,
			Errors: map[string]string{"problem": "Please provide a clear Problem."},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	evaluation, err := client.Evaluate(context.Background(), Submission{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if evaluation.Status != StatusInvalid || evaluation.Errors["problem"] == "" {
		t.Fatalf("unexpected evaluation: %+v", evaluation)
	}
}

func TestEvaluateErrors(t *testing.T) {
	t.Run("unknown status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "maybe"})
		}))
		defer server.Close()

		client := New(server.URL)
		if _, err := client.Evaluate(context.Background(), Submission{}); err == nil {
			t.Fatal("expected unknown status to error")
		}
	})

	t.Run("non-2xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := New(server.URL)
		if _, err := client.Evaluate(context.Background(), Submission{}); err == nil {
			t.Fatal("expected 500 to error")
		}
	})
}
