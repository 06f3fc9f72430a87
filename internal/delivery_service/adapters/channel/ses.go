package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// SESChannel submits email through the SES v2 outbound API. It is the
// designated failover gateway for email.
type SESChannel struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewSESChannel(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *SESChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SESChannel{
		logger:     logger.With("channel", "ses"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

type sesSendRequest struct {
	Destination struct {
		ToAddresses []string `json:"ToAddresses"`
	} `json:"Destination"`
	Content struct {
		Template struct {
			TemplateName string          `json:"TemplateName,omitempty"`
			TemplateData json.RawMessage `json:"TemplateData,omitempty"`
		} `json:"Template"`
	} `json:"Content"`
	ConfigurationSetName string `json:"ConfigurationSetName,omitempty"`
}

type sesSendResponse struct {
	MessageID string `json:"MessageId"`
	Message   string `json:"message,omitempty"` // error description on 4xx/5xx
}

func (s *SESChannel) Send(ctx context.Context, msg *domain.QueuedMessage) (*SendResult, error) {
	var reqBody sesSendRequest
	reqBody.Destination.ToAddresses = []string{msg.RecipientAddress}
	if msg.Template != nil {
		reqBody.Content.Template.TemplateName = *msg.Template
	}
	reqBody.Content.Template.TemplateData = msg.ContentData
	reqBody.ConfigurationSetName = msg.IPPool

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ses request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create ses request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.logger.ErrorContext(ctx, "SES request failed", "error", err, "message_id", msg.ID)
		return nil, fmt.Errorf("ses request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ses response (status %d): %w", httpResp.StatusCode, err)
	}

	var resp sesSendResponse
	_ = json.Unmarshal(respBytes, &resp)

	if httpResp.StatusCode >= 300 {
		errMsg := resp.Message
		if errMsg == "" {
			errMsg = fmt.Sprintf("ses returned status %d", httpResp.StatusCode)
		}
		s.logger.WarnContext(ctx, "SES send failed", "status_code", httpResp.StatusCode, "error", errMsg, "message_id", msg.ID)
		return &SendResult{Success: false, ErrorMessage: errMsg}, nil
	}

	return &SendResult{Success: true, ExternalID: resp.MessageID}, nil
}

func (s *SESChannel) Name() string { return "ses" }
