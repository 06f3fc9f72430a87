package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// TwilioChannel submits SMS through the Twilio Messages API.
type TwilioChannel struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	accountSID string
	authToken  string
}

func NewTwilioChannel(logger *slog.Logger, apiURL, accountSID, authToken string, httpClient *http.Client) *TwilioChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwilioChannel{
		logger:     logger.With("channel", "twilio"),
		httpClient: httpClient,
		apiURL:     apiURL,
		accountSID: accountSID,
		authToken:  authToken,
	}
}

type twilioSendResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"` // error description
	Code    int    `json:"code,omitempty"`
}

func (t *TwilioChannel) Send(ctx context.Context, msg *domain.QueuedMessage) (*SendResult, error) {
	body := extractBody(msg.ContentData)

	form := url.Values{}
	form.Set("To", msg.RecipientAddress)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.apiURL, t.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create twilio request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(t.accountSID, t.authToken)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		t.logger.ErrorContext(ctx, "Twilio request failed", "error", err, "message_id", msg.ID)
		return nil, fmt.Errorf("twilio request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read twilio response (status %d): %w", httpResp.StatusCode, err)
	}

	var resp twilioSendResponse
	_ = json.Unmarshal(respBytes, &resp)

	if httpResp.StatusCode >= 300 {
		errMsg := resp.Message
		if errMsg == "" {
			errMsg = fmt.Sprintf("twilio returned status %d", httpResp.StatusCode)
		}
		t.logger.WarnContext(ctx, "Twilio send failed", "status_code", httpResp.StatusCode, "twilio_code", resp.Code, "error", errMsg, "message_id", msg.ID)
		return &SendResult{Success: false, ErrorMessage: errMsg}, nil
	}

	return &SendResult{Success: true, ExternalID: resp.SID}, nil
}

func (t *TwilioChannel) Name() string { return "twilio" }

// extractBody pulls a "body" field out of the structured content data,
// falling back to the raw JSON for template-less sends.
func extractBody(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var content struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(data, &content); err == nil && content.Body != "" {
		return content.Body
	}
	return string(data)
}
