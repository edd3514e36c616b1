package ingestion

import (
	"RTokenLedger/internal/event"
	"context"
	"errors"
	"fmt"
)

var ErrNotAccepted = errors.New("ingestion: event rejected by core")

// Submitter hands a typed event to the core and waits for its verdict.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) error
}

// IngestService is the admin/manual injection path behind the HTTP
// gateway. It is not meant for high-throughput ingestion (use NATS for
// that): every call waits for the core to apply or reject the event.
type IngestService struct {
	core Submitter
}

func NewIngestService(core Submitter) *IngestService {
	return &IngestService{core: core}
}

// SubmitEvent parses a wire payload of the named type and submits it. Core
// rejections wrap ErrNotAccepted; any other error is a malformed payload or
// a cancelled context.
func (s *IngestService) SubmitEvent(ctx context.Context, eventType string, payload []byte) (event.Event, error) {
	evt, err := ParseRawEvent(RawEvent{Subject: "admin", EventType: eventType, Data: payload}, eventType)
	if err != nil {
		return nil, err
	}
	if err := s.core.Submit(ctx, evt); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNotAccepted, err)
	}
	return evt, nil
}
