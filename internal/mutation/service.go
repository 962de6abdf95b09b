package mutation

import (
	"context"
	"strings"

	"feedsync/internal/models"
	"feedsync/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// ItemWriter is the part of the content API that changes items.
type ItemWriter interface {
	ToggleLike(ctx context.Context, itemID string) (bool, error)
	UpdateItem(ctx context.Context, itemID string, patch models.ItemPatch) (*models.Item, error)
	DeleteItem(ctx context.Context, itemID string) error
}

// Service sends mutations to the content API and propagates the answers.
// Nothing is applied locally unless the server accepted the mutation.
type Service struct {
	writer ItemWriter
	prop   *Propagator
	log    *observability.EngineLogger
}

// NewService creates a Service.
func NewService(writer ItemWriter, prop *Propagator) *Service {
	return &Service{
		writer: writer,
		prop:   prop,
		log:    observability.NewEngineLogger("mutation"),
	}
}

// Propagator returns the propagator the service applies results with.
func (s *Service) Propagator() *Propagator { return s.prop }

func (s *Service) finish(ctx context.Context, span *observability.Span, kind Kind, itemID string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["item_id"] = itemID
	if err != nil {
		span.SetError(err)
		observability.MutationsTotal.WithLabelValues(string(kind), "failed").Inc()
		s.log.LogError(ctx, string(kind), err, fields)
		return
	}
	observability.MutationsTotal.WithLabelValues(string(kind), "applied").Inc()
	s.log.LogInfo(ctx, string(kind), fields)
}

// ToggleLike flips the caller's like on itemID and propagates the server's answer.
func (s *Service) ToggleLike(ctx context.Context, itemID string) (bool, error) {
	if strings.TrimSpace(itemID) == "" {
		return false, models.NewValidationError("item id is required")
	}
	span, ctx := observability.NewSpan(ctx, "mutation.like", attribute.String("item.id", itemID))
	defer span.End()

	liked, err := s.writer.ToggleLike(ctx, itemID)
	if err != nil {
		s.finish(ctx, span, KindLike, itemID, err, nil)
		return false, err
	}
	n := s.prop.ApplyLike(itemID, liked)
	s.finish(ctx, span, KindLike, itemID, nil, map[string]interface{}{"liked": liked, "copies": n})
	return liked, nil
}

// EditItem submits patch against its version. A stale version comes back as
// a VersionConflict error and leaves every cached copy untouched.
func (s *Service) EditItem(ctx context.Context, itemID string, patch models.ItemPatch) (*models.Item, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	span, ctx := observability.NewSpan(ctx, "mutation.edit",
		attribute.String("item.id", itemID),
		attribute.Int64("item.version", patch.Version),
	)
	defer span.End()

	item, err := s.writer.UpdateItem(ctx, itemID, patch)
	if err != nil {
		s.finish(ctx, span, KindEdit, itemID, err, map[string]interface{}{"version": patch.Version})
		return nil, err
	}
	n := s.prop.ApplyEdit(item)
	s.finish(ctx, span, KindEdit, itemID, nil, map[string]interface{}{"version": item.Version, "copies": n})
	return item.Clone(), nil
}

// DeleteItem deletes itemID on the server, then drops every cached copy. An
// item the server no longer has counts as deleted.
func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return models.NewValidationError("item id is required")
	}
	span, ctx := observability.NewSpan(ctx, "mutation.delete", attribute.String("item.id", itemID))
	defer span.End()

	gone := false
	if err := s.writer.DeleteItem(ctx, itemID); err != nil {
		if !models.IsCode(err, models.CodeNotFound) {
			s.finish(ctx, span, KindDelete, itemID, err, nil)
			return err
		}
		gone = true
	}
	n := s.prop.ApplyDelete(itemID)
	s.finish(ctx, span, KindDelete, itemID, nil, map[string]interface{}{"copies": n, "already_gone": gone})
	return nil
}
