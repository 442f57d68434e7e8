package taskapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/task"
)

var _ task.Source = (*Client)(nil)

type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Client fetches active tasks from the external task service.
type Client struct {
	base string
	c    *http.Client
	log  *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    20,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		base: cfg.BaseURL,
		c:    &http.Client{Timeout: timeout, Transport: transport},
		log:  log.With(zap.String("component", "taskapi.client")),
	}
}

func (cl *Client) ListActive(ctx context.Context) ([]*task.Task, error) {
	url := cl.base + "/tasks?status=active"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cl.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", task.ErrSourceUnavailable, resp.StatusCode)
	}

	var body struct {
		Tasks []*task.Task `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", task.ErrSourceUnavailable, err)
	}
	cl.log.Debug("active tasks fetched", zap.Int("count", len(body.Tasks)))
	return body.Tasks, nil
}
