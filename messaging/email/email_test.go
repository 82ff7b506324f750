package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSenderValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"mailgun ok", &MailgunConfig{Key: "k", Domain: "mg.example.com", From: "ops@example.com"}, false},
		{"mailgun missing domain", &MailgunConfig{Key: "k", From: "ops@example.com"}, true},
		{"sendgrid ok", &SendGridConfig{Key: "k", From: "ops@example.com"}, false},
		{"sendgrid nil", (*SendGridConfig)(nil), true},
		{"smtp ok", &SMTPConfig{SMTPHost: "localhost", SMTPPort: "25", From: "ops@example.com"}, false},
		{"smtp missing port", &SMTPConfig{SMTPHost: "localhost", From: "ops@example.com"}, true},
		{"unknown", "nope", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSender(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestEmailSenderByProvider(t *testing.T) {
	e := &Email{Provider: "SendGrid", SendGrid: &SendGridConfig{Key: "k", From: "ops@example.com"}}
	s, err := e.Sender()
	require.NoError(t, err)
	assert.IsType(t, &SendGridSender{}, s)

	_, err = (&Email{}).Sender()
	assert.EqualError(t, err, "email provider required")

	_, err = (&Email{Provider: "pigeon"}).Sender()
	assert.EqualError(t, err, "email provider pigeon invalid")
}

func TestSendGridSend(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("X-Message-Id", "msg-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := &SendGridSender{Config: &SendGridConfig{Key: "secret", From: "ops@example.com", APIHost: srv.URL}}
	id, err := s.Send(context.Background(), Message{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "[critical] disk full",
		Text:    "node-1 at 99%",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "[critical] disk full", body["subject"])
}

func TestSendGridSendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := &SendGridSender{Config: &SendGridConfig{Key: "bad", From: "ops@example.com", APIHost: srv.URL}}
	_, err := s.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSendRequiresRecipients(t *testing.T) {
	senders := []Sender{
		&MailgunSender{Config: &MailgunConfig{Key: "k", Domain: "d", From: "f"}},
		&SendGridSender{Config: &SendGridConfig{Key: "k", From: "f"}},
		&LocalSMTPSender{Config: &SMTPConfig{SMTPHost: "h", SMTPPort: "25", From: "f"}},
	}
	for _, s := range senders {
		_, err := s.Send(context.Background(), Message{Subject: "x"})
		assert.EqualError(t, err, "recipients required")
	}
}

func TestBuildMessage(t *testing.T) {
	raw := string(buildMessage("ops@example.com", Message{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "hello",
		Text:    "line1\nline2",
	}))
	assert.True(t, strings.HasPrefix(raw, "From: ops@example.com\r\n"))
	assert.Contains(t, raw, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, raw, "Subject: hello\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nline1\r\nline2"))
}
