package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/djlord-it/buildhook/internal/domain"
)

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSSink publishes the payload on a NATS subject for in-cluster build
// runners. A successful flush is reported as status 200.
type NATSSink struct {
	pub     Publisher
	subject string
	timeout time.Duration
}

func NewNATSSink(pub Publisher, subject string, timeout time.Duration) *NATSSink {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &NATSSink{pub: pub, subject: subject, timeout: timeout}
}

// ConnectNATS opens a connection that keeps reconnecting in the background.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("buildhook"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

func (s *NATSSink) Name() string     { return "nats" }
func (s *NATSSink) Endpoint() string { return "nats:" + s.subject }

func (s *NATSSink) Deliver(ctx context.Context, payload Payload) domain.DeliveryResult {
	start := time.Now()
	result := domain.DeliveryResult{Sink: s.Name()}

	data, err := json.Marshal(payload)
	if err != nil {
		result.Error = fmt.Errorf("marshal: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	if err := s.pub.Publish(s.subject, data); err != nil {
		result.Error = fmt.Errorf("publish: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := s.pub.FlushTimeout(timeout); err != nil {
		result.Error = fmt.Errorf("flush: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	result.StatusCode = 200
	result.Duration = time.Since(start)
	return result
}
