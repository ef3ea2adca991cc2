// Package service implements the assessment backend: the package catalog,
// assessment creation, status updates and reports. Every status update is
// relayed to the assessment's webhook after the store has persisted it.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/celerix-dev/assessment-bridge/internal/catalog"
	"github.com/celerix-dev/assessment-bridge/internal/platform/logger"
	"github.com/celerix-dev/assessment-bridge/internal/platform/tracing"
	"github.com/celerix-dev/assessment-bridge/internal/relay"
	"github.com/celerix-dev/assessment-bridge/pkg/engine"
	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

// maxIDAttempts bounds id regeneration on the (practically impossible) event
// of a uuid collision.
const maxIDAttempts = 3

type Service struct {
	store    engine.RecordStore
	catalog  *catalog.Catalog
	notifier relay.Notifier
	log      *logger.Logger
	tracer   trace.Tracer

	newID func() string
	now   func() time.Time

	wg sync.WaitGroup
}

// New wires a service. A nil notifier disables relaying; a nil logger discards logs.
func New(store engine.RecordStore, cat *catalog.Catalog, notifier relay.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &Service{
		store:    store,
		catalog:  cat,
		notifier: notifier,
		log:      log.With("service", "AssessmentService"),
		tracer:   tracing.Tracer("service"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Wait blocks until every in-flight relay dispatch has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) ListPackages(ctx context.Context) (map[int]string, error) {
	return s.catalog.Map(), nil
}

func (s *Service) CreateAssessment(ctx context.Context, req schema.CreateRequest) (schema.Assessment, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateAssessment")
	defer span.End()

	description, ok := s.catalog.Name(req.PackageID)
	if !ok {
		return schema.Assessment{}, fmt.Errorf("%w: %d", engine.ErrInvalidPackage, req.PackageID)
	}

	now := s.now().UTC()
	rec := schema.Assessment{
		Name:        strings.TrimSpace(req.Name),
		Email:       strings.TrimSpace(req.Email),
		PackageID:   req.PackageID,
		Description: description,
		Status:      schema.StatusPending,
		WebhookURL:  strings.TrimSpace(req.WebhookURL),
		PlatformURL: strings.TrimSpace(req.PlatformURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		rec.ID = s.newID()
		var created schema.Assessment
		created, err = s.store.Create(rec)
		if err == nil {
			span.SetAttributes(attribute.String("assessment.id", created.ID))
			s.log.Info("assessment created", "assessment_id", created.ID, "package_id", created.PackageID)
			return created, nil
		}
		if !errors.Is(err, engine.ErrDuplicateID) {
			break
		}
	}
	span.RecordError(err)
	return schema.Assessment{}, fmt.Errorf("create assessment: %w", err)
}

func (s *Service) GetAssessment(ctx context.Context, id string) (schema.Assessment, error) {
	return s.store.Get(id)
}

// UpdateStatus sets the status and, when upd.Score is non-nil, the score.
// Any recognized status may follow any other. On success the notification is
// dispatched in the background; its outcome never affects the result.
func (s *Service) UpdateStatus(ctx context.Context, id string, upd schema.StatusUpdate) (schema.Assessment, error) {
	ctx, span := s.tracer.Start(ctx, "service.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("assessment.id", id), attribute.String("assessment.status", string(upd.Status)))

	if !upd.Status.Valid() {
		return schema.Assessment{}, fmt.Errorf("%w: %q", engine.ErrInvalidStatus, upd.Status)
	}

	updated, err := s.store.Update(id, func(a *schema.Assessment) error {
		a.Status = upd.Status
		if upd.Score != nil {
			score := *upd.Score
			a.Score = &score
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return schema.Assessment{}, err
	}

	s.log.Info("assessment status updated", "assessment_id", updated.ID, "status", updated.Status)
	// The store lock is released here; a slow webhook cannot hold up writers.
	s.dispatch(context.WithoutCancel(ctx), updated)
	return updated, nil
}

func (s *Service) GetReport(ctx context.Context, id string) (schema.Report, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return schema.Report{}, err
	}
	return schema.ReportFor(rec), nil
}

func (s *Service) dispatch(ctx context.Context, rec schema.Assessment) {
	if s.notifier == nil {
		return
	}
	n := schema.NotificationFor(rec)
	url := rec.WebhookURL

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.notifier.Notify(ctx, url, n)
		switch {
		case err == nil:
			s.log.Debug("webhook delivered", "assessment_id", n.ID, "url", url)
		case errors.Is(err, relay.ErrNoDestination):
			s.log.Debug("no webhook url, notification skipped", "assessment_id", n.ID)
		default:
			s.log.Warn("webhook delivery failed", "assessment_id", n.ID, "url", url, "error", err)
		}
	}()
}
