package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/model"
)

func testResult() model.ComparisonResult {
	return model.ComparisonResult{
		AgreementType:   model.AgreementDPA,
		RiskScore:       60,
		MissingClauses:  []string{"Data Subject Rights"},
		ComplianceRisks: []string{"No breach notification timeline"},
		Recommendations: []string{"Add a rights clause."},
		Timestamp:       time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAlertSubjectAndBody(t *testing.T) {
	r := testResult()

	if got := AlertSubject(r); got != "GDPR Compliance Alert: Data Processing Agreement - Risk Score 60/100" {
		t.Errorf("Unexpected subject: %s", got)
	}

	body := AlertBody(r)
	for _, want := range []string{"Risk Score:    60/100", "HIGH RISK", "• Data Subject Rights", "• No breach notification timeline", "• Add a rights clause."} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected body to contain %q", want)
		}
	}

	r.Recommendations = nil
	if !strings.Contains(AlertBody(r), "No recommendations available") {
		t.Error("Expected placeholder for empty recommendations")
	}
}

func TestEmailNotifierSend(t *testing.T) {
	cfg := config.SMTPConfig{Host: "smtp.test", Port: 587, Sender: "from@test", Password: "pw", Receiver: "to@test"}
	n := NewEmailNotifier(cfg)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := n.Notify(context.Background(), testResult()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gotAddr != "smtp.test:587" {
		t.Errorf("Expected smtp.test:587, got %s", gotAddr)
	}
	if gotFrom != "from@test" || len(gotTo) != 1 || gotTo[0] != "to@test" {
		t.Errorf("Unexpected envelope %s -> %v", gotFrom, gotTo)
	}
	if !strings.Contains(string(gotMsg), "Subject: GDPR Compliance Alert: Data Processing Agreement - Risk Score 60/100\r\n") {
		t.Errorf("Expected subject header, got %s", gotMsg)
	}
}

func TestEmailNotifierErrors(t *testing.T) {
	n := NewEmailNotifier(config.SMTPConfig{Host: "smtp.test", Port: 587})
	if err := n.Send(context.Background(), "s", "b"); err == nil {
		t.Error("Expected error for missing credentials")
	}

	n = NewEmailNotifier(config.SMTPConfig{Host: "smtp.test", Port: 587, Sender: "a", Password: "b", Receiver: "c"})
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("535 authentication failed")
	}
	if err := n.Send(context.Background(), "s", "b"); err == nil {
		t.Error("Expected error from SMTP failure")
	}
}

func TestSlackNotifier(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %s", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewSlackNotifier(server.URL)
	if err := n.Notify(context.Background(), testResult()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(received["text"], "Risk Score 60/100") {
		t.Errorf("Expected alert text, got %q", received["text"])
	}
}

func TestSlackNotifierError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if err := NewSlackNotifier(server.URL).Send(context.Background(), "s", "b"); err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestNewAlerters(t *testing.T) {
	if got := NewAlerters(&config.NotifyConfig{}); len(got) != 0 {
		t.Errorf("Expected no alerters, got %d", len(got))
	}

	cfg := &config.NotifyConfig{
		SMTP:  config.SMTPConfig{Sender: "a", Password: "b", Receiver: "c"},
		Slack: config.SlackConfig{WebhookURL: "http://hook"},
	}
	if got := NewAlerters(cfg); len(got) != 2 {
		t.Errorf("Expected 2 alerters, got %d", len(got))
	}
}
