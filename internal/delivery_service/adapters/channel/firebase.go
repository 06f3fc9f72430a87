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

// FirebaseChannel submits push notifications through FCM.
type FirebaseChannel struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewFirebaseChannel(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *FirebaseChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &FirebaseChannel{
		logger:     logger.With("channel", "firebase"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

type fcmSendRequest struct {
	Message struct {
		Token        string          `json:"token"`
		Notification fcmNotification `json:"notification"`
		Data         json.RawMessage `json:"data,omitempty"`
	} `json:"message"`
}

type fcmNotification struct {
	Title string `json:"title,omitempty"`
}

type fcmSendResponse struct {
	Name  string `json:"name"` // projects/*/messages/{message_id}
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (f *FirebaseChannel) Send(ctx context.Context, msg *domain.QueuedMessage) (*SendResult, error) {
	var reqBody fcmSendRequest
	reqBody.Message.Token = msg.RecipientAddress
	if msg.Subject != nil {
		reqBody.Message.Notification.Title = *msg.Subject
	}
	reqBody.Message.Data = msg.ContentData

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fcm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.apiURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create fcm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+f.apiKey)

	httpResp, err := f.httpClient.Do(httpReq)
	if err != nil {
		f.logger.ErrorContext(ctx, "FCM request failed", "error", err, "message_id", msg.ID)
		return nil, fmt.Errorf("fcm request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fcm response (status %d): %w", httpResp.StatusCode, err)
	}

	var resp fcmSendResponse
	_ = json.Unmarshal(respBytes, &resp)

	if httpResp.StatusCode >= 300 {
		errMsg := fmt.Sprintf("fcm returned status %d", httpResp.StatusCode)
		if resp.Error != nil && resp.Error.Message != "" {
			errMsg = resp.Error.Message
		}
		f.logger.WarnContext(ctx, "FCM send failed", "status_code", httpResp.StatusCode, "error", errMsg, "message_id", msg.ID)
		return &SendResult{Success: false, ErrorMessage: errMsg}, nil
	}

	return &SendResult{Success: true, ExternalID: resp.Name}, nil
}

func (f *FirebaseChannel) Name() string { return "firebase" }
