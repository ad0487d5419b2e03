package fanout

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/metrics"
)

const (
	defaultWorkers     = 4
	queueCapacity      = 1024
	deliveryTimeout    = 5 * time.Second
	signatureHeader    = "X-Signature"
	deliveryOutcomeOK  = "ok"
	deliveryOutcomeErr = "error"
)

// delivery is one webhook POST waiting for a worker.
type delivery struct {
	webhookID string
	url       string
	secret    string
	event     string
	body      []byte
}

// dispatcher pushes webhook deliveries through a fixed worker pool. Delivery
// is fire-and-forget: one attempt, a short timeout, failures logged and
// counted but never retried or propagated.
type dispatcher struct {
	client *http.Client
	queue  chan delivery
	log    *zap.Logger
	wg     sync.WaitGroup
}

func newDispatcher(workers int, log *zap.Logger) *dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	d := &dispatcher{
		client: &http.Client{Timeout: deliveryTimeout},
		queue:  make(chan delivery, queueCapacity),
		log:    log,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// enqueue hands a delivery to the pool without blocking. When the queue is
// saturated the delivery is dropped with a warning; webhook delivery is
// best-effort.
func (d *dispatcher) enqueue(dv delivery) {
	select {
	case d.queue <- dv:
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues(deliveryOutcomeErr).Inc()
		d.log.Warn("webhook queue full, dropping delivery",
			zap.String("webhook_id", dv.webhookID),
			zap.String("event", dv.event))
	}
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for dv := range d.queue {
		d.deliver(dv)
	}
}

func (d *dispatcher) deliver(dv delivery) {
	req, err := http.NewRequest(http.MethodPost, dv.url, bytes.NewReader(dv.body))
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues(deliveryOutcomeErr).Inc()
		d.log.Warn("webhook request build failed",
			zap.String("webhook_id", dv.webhookID),
			zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MoltGrid-Webhook/1.0")
	if dv.secret != "" {
		req.Header.Set(signatureHeader, hmacSHA256(dv.body, dv.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues(deliveryOutcomeErr).Inc()
		d.log.Warn("webhook delivery failed",
			zap.String("webhook_id", dv.webhookID),
			zap.String("event", dv.event),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WebhookDeliveriesTotal.WithLabelValues(deliveryOutcomeErr).Inc()
		d.log.Warn("webhook returned non-2xx status",
			zap.String("webhook_id", dv.webhookID),
			zap.String("event", dv.event),
			zap.Int("status", resp.StatusCode))
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues(deliveryOutcomeOK).Inc()
	d.log.Debug("webhook delivered",
		zap.String("webhook_id", dv.webhookID),
		zap.String("event", dv.event))
}

// shutdown drains the queue and stops the workers.
func (d *dispatcher) shutdown() {
	close(d.queue)
	d.wg.Wait()
}

// hmacSHA256 computes an HMAC-SHA256 signature of data using secret,
// returned as a lowercase hex string.
func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
