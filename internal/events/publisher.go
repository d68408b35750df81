package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/controlface/deploy-console/internal/models"
)

// Publisher emits registry and deploy events. Publishing is best effort:
// a failed publish never fails the operation that produced the event.
type Publisher interface {
	PublishTenant(event *models.TenantEvent)
	PublishDeploy(event *models.DeployEvent)
}

// Nop discards every event
type Nop struct{}

func (Nop) PublishTenant(*models.TenantEvent) {}
func (Nop) PublishDeploy(*models.DeployEvent) {}

// natsConn is the part of *nats.Conn used for publishing
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON on NATS subjects
//
//	<prefix>.tenants.created|updated|deleted
//	<prefix>.deploy.dispatched|failed
type NATSPublisher struct {
	nc     natsConn
	prefix string
}

// NewNATSPublisher creates a publisher on nc. An empty prefix defaults to "console".
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return newNATSPublisher(nc, prefix)
}

func newNATSPublisher(nc natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "console"
	}
	return &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event type is published on
func (p *NATSPublisher) Subject(eventType models.EventType) string {
	switch eventType {
	case models.EventTypeTenantCreated:
		return p.prefix + ".tenants.created"
	case models.EventTypeTenantUpdated:
		return p.prefix + ".tenants.updated"
	case models.EventTypeTenantDeleted:
		return p.prefix + ".tenants.deleted"
	case models.EventTypeDeployDispatched:
		return p.prefix + ".deploy.dispatched"
	case models.EventTypeDeployFailed:
		return p.prefix + ".deploy.failed"
	default:
		return fmt.Sprintf("%s.events.%s", p.prefix, strings.ToLower(string(eventType)))
	}
}

// PublishTenant implements Publisher
func (p *NATSPublisher) PublishTenant(event *models.TenantEvent) {
	p.publish(event.Type, event)
}

// PublishDeploy implements Publisher
func (p *NATSPublisher) PublishDeploy(event *models.DeployEvent) {
	p.publish(event.Type, event)
}

func (p *NATSPublisher) publish(eventType models.EventType, v interface{}) {
	subject := p.Subject(eventType)

	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return
	}

	log.Debug().Str("subject", subject).Msg("Event published")
}
