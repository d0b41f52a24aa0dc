package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
)

var _ collaboration.ServiceChecker = (*HealthChecker)(nil)

// HealthChecker reports whether the Kafka cluster backing the collaboration
// channel is reachable.
type HealthChecker struct{ client sarama.Client }

// NewHealthChecker returns a checker over client.
func NewHealthChecker(client sarama.Client) *HealthChecker { return &HealthChecker{client: client} }

// Name implements collaboration.ServiceChecker.
func (h *HealthChecker) Name() string { return "kafka" }

// Check refreshes cluster metadata and requires at least one broker.
func (h *HealthChecker) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.client.Closed() {
		return errors.New("kafka client closed")
	}
	if err := h.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("refresh metadata: %w", err)
	}
	if len(h.client.Brokers()) == 0 {
		return errors.New("no kafka brokers available")
	}
	return nil
}
