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

// PostalChannel submits email through a Postal server's message API.
type PostalChannel struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewPostalChannel(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *PostalChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &PostalChannel{
		logger:     logger.With("channel", "postal"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

type postalSendRequest struct {
	To       []string        `json:"to"`
	Subject  string          `json:"subject,omitempty"`
	Template string          `json:"template,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Pool     string          `json:"pool,omitempty"`
}

type postalSendResponse struct {
	Status string `json:"status"`
	Data   struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

func (p *PostalChannel) Send(ctx context.Context, msg *domain.QueuedMessage) (*SendResult, error) {
	reqBody := postalSendRequest{
		To:   []string{msg.RecipientAddress},
		Pool: msg.IPPool,
		Data: msg.ContentData,
	}
	if msg.Subject != nil {
		reqBody.Subject = *msg.Subject
	}
	if msg.Template != nil {
		reqBody.Template = *msg.Template
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal postal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create postal request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Server-API-Key", p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.ErrorContext(ctx, "Postal request failed", "error", err, "message_id", msg.ID)
		return nil, fmt.Errorf("postal request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read postal response (status %d): %w", httpResp.StatusCode, err)
	}

	var resp postalSendResponse
	if unmarshalErr := json.Unmarshal(respBytes, &resp); unmarshalErr != nil && httpResp.StatusCode < 300 {
		p.logger.WarnContext(ctx, "Postal accepted message but response was unparseable", "status_code", httpResp.StatusCode, "message_id", msg.ID)
		return &SendResult{Success: true}, nil
	}

	if httpResp.StatusCode >= 300 || resp.Status == "error" {
		errMsg := resp.Error
		if errMsg == "" {
			errMsg = fmt.Sprintf("postal returned status %d", httpResp.StatusCode)
		}
		p.logger.WarnContext(ctx, "Postal send failed", "status_code", httpResp.StatusCode, "error", errMsg, "message_id", msg.ID)
		return &SendResult{Success: false, ErrorMessage: errMsg}, nil
	}

	return &SendResult{Success: true, ExternalID: resp.Data.MessageID}, nil
}

func (p *PostalChannel) Name() string { return "postal" }
