package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/circuitbreaker"
	"github.com/aquamart/dispatch/pkg/models"
)

// Client pushes delivery milestones to the storefront backend so the UI can
// refresh order pages without polling. Calls are bounded by the http client
// timeout and guarded by a circuit breaker; a saturated storefront degrades
// to dropped notifications, never to blocked request handlers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

type DeliveryNotice struct {
	OrderID     string            `json:"order_id"`
	RequesterID string            `json:"requester_id"`
	Status      models.OrderState `json:"status"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
	NotifiedAt  time.Time         `json:"notified_at"`
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: circuitbreaker.New("storefront-notify", 5, 30*time.Second, logger),
		logger:  logger,
	}
}

// NotifyOrderStatus posts the notice to the storefront. Timeouts surface as
// models.ErrTimeout so callers can distinguish a slow storefront from a
// broken one.
func (c *Client) NotifyOrderStatus(notice DeliveryNotice) error {
	if c.baseURL == "" {
		return nil
	}
	notice.NotifiedAt = time.Now()

	err := c.breaker.Execute(func() error {
		return c.post(notice)
	})
	if err != nil {
		c.logger.WithError(err).WithField("order_id", notice.OrderID).Warn("Storefront notification failed")
	}
	return err
}

func (c *Client) post(notice DeliveryNotice) error {
	jsonData, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL+"/internal/delivery-updates", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return models.ErrTimeout
		}
		return fmt.Errorf("failed to reach storefront: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("storefront returned error status: %d", resp.StatusCode)
	}

	c.logger.WithFields(logrus.Fields{
		"order_id": notice.OrderID,
		"status":   notice.Status,
	}).Info("Storefront notified")
	return nil
}
