package events

import (
	"context"
	"log"
	"time"

	"simrunner/pkg/bus"
)

const publishTimeout = 2 * time.Second

// BusSink publishes lifecycle events to NATS JetStream. Publishing happens
// in the background so a slow or absent broker can never stall a publish or
// a sync tick; failures are logged and dropped.
type BusSink struct {
	bus    *bus.Bus
	logger *log.Logger
}

// NewBusSink creates a sink over an established bus connection.
func NewBusSink(b *bus.Bus, logger *log.Logger) *BusSink {
	if logger == nil {
		logger = log.Default()
	}
	return &BusSink{bus: b, logger: logger}
}

func (s *BusSink) RunTransitioned(_ context.Context, evt Transition) {
	s.publish(runTransitionedSubject, evt)
}

func (s *BusSink) SyncExhausted(_ context.Context, evt SyncExhaustion) {
	s.publish(syncExhaustedSubject, evt)
}

func (s *BusSink) publish(subject string, payload any) {
	if s == nil || s.bus == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.bus.Publish(ctx, subject, payload); err != nil {
			s.logger.Printf("WARN publish %s: %v", subject, err)
		}
	}()
}
