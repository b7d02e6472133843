package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "sendflow/pkg/logx"
)

// Config configures the Z-API style HTTP client.
//
// SendTextURL wins when set; otherwise the URL is derived from
// InstanceID/InstanceToken against BaseURL.
type Config struct {
	BaseURL       string // default "https://api.z-api.io"
	InstanceID    string
	InstanceToken string
	ClientToken   string // optional account security token header
	SendTextURL   string // full override of the send-text endpoint
	Timeout       time.Duration
	RetryMax      int // transport-error retries per send (default 2)
}

// Client is an HTTP Gateway implementation.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SendTextURL) == "" &&
		(strings.TrimSpace(cfg.InstanceID) == "" || strings.TrimSpace(cfg.InstanceToken) == "") {
		return nil, errors.New("gateway: send_text_url or instance_id+instance_token required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

func (c *Client) sendURL() string {
	if u := strings.TrimSpace(c.cfg.SendTextURL); u != "" {
		return u
	}
	base := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.z-api.io"
	}
	return fmt.Sprintf("%s/instances/%s/token/%s/send-text", base, c.cfg.InstanceID, c.cfg.InstanceToken)
}

type sendPayload struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// SendText posts one message. Transport errors are retried with backoff;
// HTTP rejections (4xx) are not, they map straight to a failed Result.
func (c *Client) SendText(ctx context.Context, phoneE164, message string) Result {
	body, err := json.Marshal(sendPayload{Phone: phoneE164, Message: message})
	if err != nil {
		return Result{Status: StatusError, Error: err.Error()}
	}

	retries := c.cfg.RetryMax
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = 2
	}

	var last Result
	for attempt := 0; ; attempt++ {
		last = c.post(ctx, body)
		// Only transport/server trouble is worth retrying.
		if last.Status != StatusError || attempt >= retries {
			break
		}
		delay := time.Duration(2<<attempt) * time.Second
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
		c.log.Debug("gateway send retry scheduled",
			logx.String("phone", maskPhone(phoneE164)),
			logx.Int("attempt", attempt+2),
			logx.Duration("delay", delay),
			logx.String("err", last.Error))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			last.Error = ctx.Err().Error()
			return last
		case <-tmr.C:
		}
	}

	if last.Success {
		c.log.Debug("message sent", logx.String("phone", maskPhone(phoneE164)), logx.Int("http_status", last.HTTPStatus))
	} else {
		c.log.Warn("message send failed",
			logx.String("phone", maskPhone(phoneE164)),
			logx.String("status", last.Status),
			logx.Int("http_status", last.HTTPStatus),
			logx.String("err", last.Error))
	}
	return last
}

func (c *Client) post(ctx context.Context, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL(), bytes.NewReader(body))
	if err != nil {
		return Result{Status: StatusError, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if tok := strings.TrimSpace(c.cfg.ClientToken); tok != "" {
		req.Header.Set("Client-Token", tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Status: StatusError, Error: err.Error()}
	}
	defer resp.Body.Close()

	var parsed sendResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		id := parsed.MessageID
		if id == "" {
			id = parsed.ID
		}
		return Result{Success: true, Status: StatusSent, ProviderMessageID: id, HTTPStatus: resp.StatusCode}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := parsed.Error
		if msg == "" {
			msg = parsed.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("client error: %d", resp.StatusCode)
		}
		return Result{Status: StatusFailed, HTTPStatus: resp.StatusCode, Error: msg}
	default:
		return Result{Status: StatusError, HTTPStatus: resp.StatusCode, Error: fmt.Sprintf("server error: %d", resp.StatusCode)}
	}
}

func maskPhone(p string) string {
	if len(p) <= 8 {
		return p
	}
	return p[:4] + "..." + p[len(p)-4:]
}
