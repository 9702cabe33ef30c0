// Package events publishes cluster-health events — shards repaired,
// shards found corrupt, disks marked out of service, and topology
// version bumps — to whatever sinks a deployment configures. It
// generalizes the teacher's internal/notify dispatcher, which fans
// S3-style bucket events out to webhook/Kafka/NATS backends, to a
// narrower cluster-health vocabulary with the same best-effort,
// fan-out-to-every-sink delivery model.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudomate/objectio/internal/objmodel"
)

// Kind classifies a cluster-health event.
type Kind string

const (
	ShardRepaired    Kind = "ShardRepaired"
	ShardCorrupt     Kind = "ShardCorrupt"
	DiskOutOfService Kind = "DiskOutOfService"
	TopologyChanged  Kind = "TopologyChanged"
)

// Event is the payload handed to every sink, JSON-encoded on the wire.
type Event struct {
	Kind            Kind              `json:"kind"`
	Time            time.Time         `json:"time"`
	NodeID          string            `json:"node_id,omitempty"`
	DiskID          string            `json:"disk_id,omitempty"`
	Bucket          string            `json:"bucket,omitempty"`
	Key             string            `json:"key,omitempty"`
	StripeID        objmodel.StripeID `json:"stripe_id,omitempty"`
	Position        int               `json:"position,omitempty"`
	TopologyVersion uint64            `json:"topology_version,omitempty"`
	Detail          string            `json:"detail,omitempty"`
}

// Sink is one delivery backend, matching the teacher's notify.Backend
// shape (Name/Publish/Close) but carrying a structured Event instead of
// an opaque payload — each Sink marshals it as it sees fit.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Publisher fans an event out to every registered sink. A publish
// failure on one sink is logged and does not block or fail the others;
// the repair manager that calls Publish never blocks on a slow broker.
// A nil *Publisher is valid and Publish/Close become no-ops, so callers
// that run without any configured sink don't need a separate guard.
type Publisher struct {
	mu    sync.Mutex
	sinks []Sink
}

func NewPublisher(sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks}
}

func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	p.mu.Lock()
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.Unlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, ev); err != nil {
			slog.Warn("events: sink publish failed", "sink", s.Name(), "kind", ev.Kind, "error", err)
		}
	}
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			slog.Warn("events: sink close failed", "sink", s.Name(), "error", err)
		}
	}
}
