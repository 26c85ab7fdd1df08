// Package feedback submits audience feedback forms to a collection endpoint.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mcdev12/deckpace/go/clients"
	"github.com/rs/zerolog/log"
)

// ErrEmptyForm is returned when every collected field is blank
var ErrEmptyForm = errors.New("form contains no data for submission")

// Outcome classifies a submission
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeEmpty
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "form_empty"
	default:
		return "error"
	}
}

// Submission is the JSON body posted to the endpoint
type Submission struct {
	StaticInfo map[string]any    `json:"static_info"`
	Collected  map[string]string `json:"collected"`
}

// Sender posts feedback forms. StaticInfo is attached to every submission.
type Sender struct {
	client     *clients.BaseClient
	path       string
	staticInfo map[string]any
}

// NewSender creates a sender for the absolute target URL
func NewSender(target string, staticInfo map[string]any) (*Sender, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid feedback URL %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid feedback URL %q: must be absolute http(s)", target)
	}

	path := u.RequestURI()
	u.Path, u.RawPath, u.RawQuery = "", "", ""

	client := clients.NewBaseClient(u.String())
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(10 * time.Second)

	return &Sender{client: client, path: path, staticInfo: staticInfo}, nil
}

// Submit posts the collected fields. An all-blank form is not sent.
func (s *Sender) Submit(ctx context.Context, fields map[string]string) (Outcome, error) {
	if isEmpty(fields) {
		return OutcomeEmpty, ErrEmptyForm
	}

	body, err := json.Marshal(Submission{StaticInfo: s.staticInfo, Collected: fields})
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to marshal feedback: %w", err)
	}

	if _, err := s.client.Post(ctx, s.path, bytes.NewReader(body)); err != nil {
		var statusErr *clients.StatusError
		if errors.As(err, &statusErr) {
			err = fmt.Errorf("server returned HTTP %d error during submission: %w", statusErr.StatusCode, err)
		} else {
			err = fmt.Errorf("network error during submission: %w", err)
		}
		log.Warn().Err(err).Str("endpoint", s.client.BaseURL()+s.path).Msg("feedback submission failed")
		return OutcomeError, err
	}

	log.Info().Int("fields", len(fields)).Msg("feedback submitted")
	return OutcomeSuccess, nil
}

func isEmpty(fields map[string]string) bool {
	for _, v := range fields {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
