package kafkaconsumer

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/IBM/sarama"
)

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

// groupHandler applies messages in partition order and remembers which
// partitions the current session owns.
type groupHandler struct {
	process messageProcessor

	mu       sync.RWMutex
	assigned []int32
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	var parts []int32
	for _, ps := range sess.Claims() {
		parts = append(parts, ps...)
	}
	slices.Sort(parts)
	h.mu.Lock()
	h.assigned = parts
	h.mu.Unlock()
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.mu.Lock()
	h.assigned = nil
	h.mu.Unlock()
	return nil
}

func (h *groupHandler) partitions() []int32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.assigned)
}

// ConsumeClaim marks an offset only after its message was applied; a
// failure ends the claim so the message is redelivered.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
