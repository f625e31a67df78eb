// The notifier is the standalone email gateway the API depends on for
// lifecycle notifications. It exposes GET /health and POST /send-email
// over plain JSON and delivers through SMTP.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ballora/api/internal/config"
	"ballora/api/internal/email"
)

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func main() {
	cfg := config.Load()
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("WARNING: SMTP not configured; /send-email will fail until SMTP_HOST, SMTP_PORT and SMTP_FROM are set")
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "smtpConfigured": mailer.IsConfigured()})
	})

	mux.HandleFunc("/send-email", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, sendResponse{Error: "invalid request body"})
			return
		}
		if req.To == "" || req.Subject == "" || req.Message == "" {
			writeJSON(w, http.StatusBadRequest, sendResponse{Error: "to, subject and message are required"})
			return
		}

		if err := mailer.SendEmail([]string{req.To}, req.Subject, req.Message); err != nil {
			log.Printf("send-email to=%s failed: %v", req.To, err)
			writeJSON(w, http.StatusOK, sendResponse{Success: false, Error: err.Error()})
			return
		}
		log.Printf("send-email to=%s subject=%q", req.To, req.Subject)
		writeJSON(w, http.StatusOK, sendResponse{Success: true})
	})

	server := &http.Server{
		Addr:              cfg.NotifierAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		log.Printf("Ballora notifier listening on %s", cfg.NotifierAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
