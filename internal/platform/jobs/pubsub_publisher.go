package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/ledgerlink/billing/internal/domain"
)

// ReportGeneratedMessage is the JSON payload published for each generated billing report.
type ReportGeneratedMessage struct {
	ReportID      string    `json:"reportId"`
	CustomerID    string    `json:"customerId"`
	Format        string    `json:"format"`
	PeriodStart   time.Time `json:"periodStart"`
	PeriodEnd     time.Time `json:"periodEnd"`
	OrderCount    int       `json:"orderCount"`
	SkippedOrders int       `json:"skippedOrders"`
	TotalAmount   string    `json:"totalAmount"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// PubSubReportPublisher announces generated billing reports on a Pub/Sub topic.
type PubSubReportPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReportPublisher constructs a Pub/Sub backed report notifier.
func NewPubSubReportPublisher(topic *pubsub.Topic) (*PubSubReportPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub report publisher: topic is required")
	}
	return &PubSubReportPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// NotifyReportGenerated publishes the event and waits for the server acknowledgement.
func (p *PubSubReportPublisher) NotifyReportGenerated(ctx context.Context, event domain.ReportGeneratedEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub report publisher: not initialised")
	}

	data, err := p.marshal(ReportGeneratedMessage{
		ReportID:      event.ReportID,
		CustomerID:    event.CustomerID,
		Format:        string(event.Format),
		PeriodStart:   event.Period.Start.UTC(),
		PeriodEnd:     event.Period.End.UTC(),
		OrderCount:    event.OrderCount,
		SkippedOrders: event.SkippedOrders,
		TotalAmount:   event.TotalAmount.StringFixed(2),
		GeneratedAt:   event.GeneratedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal report event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "reportId", event.ReportID)
	setAttr(attrs, "customerId", event.CustomerID)
	setAttr(attrs, "format", string(event.Format))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish report event: %w", err)
	}
	return nil
}

// Stop flushes pending messages. Call it before closing the Pub/Sub client.
func (p *PubSubReportPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
