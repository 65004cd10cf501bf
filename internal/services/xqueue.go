package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/pkg/httpx"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

// XQueueConfig mirrors the XQUEUE_INTERFACE deployment setting.
type XQueueConfig struct {
	URL         string
	CallbackURL string
	DjangoAuth  map[string]string
	BasicAuth   []string
	// WaitTime is the base delay between retried submissions.
	WaitTime time.Duration
}

// xqueueService is the egress half of the external-grader integration: it
// posts work to the queue with a callback URL pointing at the xqueue
// ingress, keyed by lmsKey. The grader's verdict re-enters through that
// callback.
type xqueueService struct {
	log    *logger.Logger
	cfg    XQueueConfig
	client *http.Client
}

func NewXQueueService(baseLog *logger.Logger, cfg XQueueConfig, client *http.Client) block.XQueueService {
	if client == nil {
		client = &http.Client{Timeout: 35 * time.Second}
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = 5 * time.Second
	}
	return &xqueueService{
		log:    baseLog.With("service", "XQueueService"),
		cfg:    cfg,
		client: client,
	}
}

func (s *xqueueService) Submit(ctx context.Context, queueName, lmsKey string, body map[string]any) error {
	header, err := json.Marshal(map[string]any{
		"lms_callback_url": s.cfg.CallbackURL,
		"lms_key":          lmsKey,
		"queue_name":       queueName,
	})
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(s.cfg.URL, "/") + "/xqueue/submit/"

	resp, err := httpx.DoWithRetry(ctx, s.client, 3, s.cfg.WaitTime, func() (*http.Request, error) {
		form := url.Values{}
		form.Set("xqueue_header", string(header))
		form.Set("xqueue_body", string(payload))
		req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if len(s.cfg.BasicAuth) == 2 {
			req.SetBasicAuth(s.cfg.BasicAuth[0], s.cfg.BasicAuth[1])
		}
		return req, nil
	})
	if err != nil {
		s.log.Warn("xqueue submission failed", "queue", queueName, "error", err)
		return err
	}
	defer resp.Body.Close()

	var reply struct {
		ReturnCode int    `json:"return_code"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode xqueue reply: %w", err)
	}
	if reply.ReturnCode != 0 {
		return fmt.Errorf("xqueue rejected submission: %s", reply.Content)
	}
	return nil
}
