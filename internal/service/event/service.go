package event

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/pipeline"
	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/internal/service/audit"
	"github.com/jwalitptl/recordflow/pkg/idgen"
	"github.com/jwalitptl/recordflow/pkg/logger"
	"github.com/jwalitptl/recordflow/pkg/messaging"
	"github.com/jwalitptl/recordflow/pkg/metrics"
)

// Service is the front door for new intake records: it writes the
// record, its audit row and the first outbox event in one unit of
// work, then fires a wake hint after commit.
type Service struct {
	store   repository.Store
	idgen   *idgen.Generator
	auditor *audit.Service
	broker  messaging.Broker
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// SetMetrics attaches the pipeline metrics. Optional; nil is fine.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func NewService(store repository.Store, gen *idgen.Generator, auditor *audit.Service, broker messaging.Broker, logger *logger.Logger) *Service {
	return &Service{
		store:   store,
		idgen:   gen,
		auditor: auditor,
		broker:  broker,
		logger:  logger,
	}
}

// IntakeRecord creates a record in status created and enqueues
// record_created. A crash persists both or neither.
func (s *Service) IntakeRecord(ctx context.Context, name, domain string) (*model.Record, error) {
	id, err := s.idgen.Generate("record")
	if err != nil {
		return nil, fmt.Errorf("failed to generate record id: %w", err)
	}

	record := &model.Record{
		ID:     id,
		Name:   name,
		Domain: domain,
		Status: model.RecordStatusCreated,
	}

	var eventID uuid.UUID
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Records().CreateRecord(ctx, record); err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, tx, record.ID, "service:intake", model.AuditActionCreate,
			nil, audit.Snapshot{Status: string(model.RecordStatusCreated)}); err != nil {
			return err
		}

		evt, err := pipeline.NewEvent(model.EventRecordCreated, model.EntityTypeRecord, record.ID, pipeline.RecordCreatedPayload{
			RecordID: record.ID,
			Name:     name,
			Domain:   domain,
		})
		if err != nil {
			return err
		}
		if err := tx.Events().Enqueue(ctx, evt); err != nil {
			return err
		}
		eventID = evt.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Notify(ctx, model.EventRecordCreated, eventID)
	return record, nil
}

// Notify publishes a wake hint for an enqueued event. Best-effort:
// workers poll the ledger regardless, so a lost hint only costs
// latency.
func (s *Service) Notify(ctx context.Context, eventType string, eventID uuid.UUID) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, ChannelFor(eventType), eventID.String()); err != nil {
		s.logger.Debug("failed to publish wake hint",
			"event_id", eventID.String(), "error", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.SignalsPublished.Inc()
	}
}

// ChannelFor maps an event type to its signal channel.
func ChannelFor(eventType string) string {
	switch eventType {
	case model.EventSlotCreated, model.EventContactEnriched, model.EventEmailVerified:
		return messaging.ChannelSlotEvents
	default:
		return messaging.ChannelRecordEvents
	}
}
