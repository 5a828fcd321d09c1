package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DingTalk posts events to a DingTalk robot webhook, signing the request when
// a secret is configured.
type DingTalk struct {
	client     *resty.Client
	webhookURL string
	secret     string
	logger     *zap.Logger
}

// NewDingTalk creates a DingTalk notifier.
func NewDingTalk(webhookURL, secret string, logger *zap.Logger) *DingTalk {
	client := resty.New().SetTimeout(5 * time.Second)
	return &DingTalk{
		client:     client,
		webhookURL: webhookURL,
		secret:     secret,
		logger:     logger.Named("dingtalk"),
	}
}

var _ Notifier = (*DingTalk)(nil)

// Notify sends the event in the background. Errors are logged and dropped.
func (d *DingTalk) Notify(event Event) {
	go func() {
		if err := d.send(event); err != nil {
			d.logger.Warn("Failed to deliver notification",
				zap.String("type", string(event.Type)),
				zap.String("symbol", event.Symbol),
				zap.Error(err))
		}
	}()
}

func (d *DingTalk) send(event Event) error {
	body := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": event.String(),
		},
	}

	resp, err := d.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(d.signedURL())
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %s", resp.Status())
	}
	return nil
}

// signedURL appends the timestamp and HMAC-SHA256 signature DingTalk expects
// when the robot has a security secret.
func (d *DingTalk) signedURL() string {
	if d.secret == "" {
		return d.webhookURL
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	stringToSign := timestamp + "\n" + d.secret

	h := hmac.New(sha256.New, []byte(d.secret))
	h.Write([]byte(stringToSign))
	signature := url.QueryEscape(base64.StdEncoding.EncodeToString(h.Sum(nil)))

	return fmt.Sprintf("%s&timestamp=%s&sign=%s", d.webhookURL, timestamp, signature)
}
