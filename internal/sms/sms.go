// Package sms is the SMS dispatch boundary. Delivery is best-effort: a
// failed send is logged by the caller and never fails the surrounding
// request, so a valid code can be re-delivered out of band.
package sms

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sender delivers one text message to one phone.
type Sender interface {
	Send(ctx context.Context, phone, body string) error
}

// LogSender writes messages to the process log instead of sending them.
// Default when no provider is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, phone, body string) error {
	log.Printf("SMS to %s: %s", maskPhone(phone), body)
	return nil
}

// TwilioSender posts to the Twilio Messages REST endpoint.
type TwilioSender struct {
	AccountSID string
	AuthToken  string
	From       string
	HTTPClient *http.Client
}

// NewTwilioSender creates a Twilio-backed sender with a bounded HTTP client.
func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	return &TwilioSender{
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TwilioSender) Send(ctx context.Context, phone, body string) error {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", s.AccountSID)
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", s.From)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(s.AccountSID, s.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("twilio send: status %d", resp.StatusCode)
	}
	return nil
}

// maskPhone keeps the first two and last two characters of a phone number.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
