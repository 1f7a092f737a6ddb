package ideastore

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ideaRoutingModel{}, &evergreenEntryModel{})
}

func (r *Repository) GetRouting(ctx context.Context, id uuid.UUID) (models.IdeaRouting, error) {
	var row ideaRoutingModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.IdeaRouting{}, apperr.NotFound("idea routing", id)
		}
		return models.IdeaRouting{}, err
	}
	return row.toDomain(), nil
}

func (r *Repository) GetRoutingByIdea(ctx context.Context, ideaID uuid.UUID) (models.IdeaRouting, error) {
	var row ideaRoutingModel
	if err := r.db.WithContext(ctx).First(&row, "idea_id = ?", ideaID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.IdeaRouting{}, apperr.NotFound("idea routing for idea", ideaID)
		}
		return models.IdeaRouting{}, err
	}
	return row.toDomain(), nil
}

func (r *Repository) ListRoutings(ctx context.Context, status models.RoutingStatus, limit int) ([]models.IdeaRouting, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Order("updated_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	var rows []ideaRoutingModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	routings := make([]models.IdeaRouting, 0, len(rows))
	for _, row := range rows {
		routings = append(routings, row.toDomain())
	}
	return routings, nil
}

// UpsertByIdea creates the routing record for ideaID if missing and applies fn
// to it under a row lock, so concurrent calls for the same idea serialize.
// fn sees created=true on first routing. Returning an error from fn rolls the
// whole operation back.
func (r *Repository) UpsertByIdea(ctx context.Context, ideaID uuid.UUID, fn func(routing *models.IdeaRouting, created bool) error) (models.IdeaRouting, error) {
	var result models.IdeaRouting
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := insertPlaceholder(tx, ideaID, time.Now().UTC())
		if insert.Error != nil {
			return insert.Error
		}
		created := insert.RowsAffected == 1

		var row ideaRoutingModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "idea_id = ?", ideaID).Error; err != nil {
			return err
		}

		routing := row.toDomain()
		if err := fn(&routing, created); err != nil {
			return err
		}
		var err error
		result, err = saveRouting(tx, row, routing)
		return err
	})
	return result, err
}

// insertPlaceholder creates an unrouted record for ideaID unless one exists.
func insertPlaceholder(tx *gorm.DB, ideaID uuid.UUID, now time.Time) *gorm.DB {
	placeholder := ideaRoutingModel{
		ID:        uuid.New(),
		IdeaID:    ideaID,
		Status:    string(models.StatusUnrouted),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idea_id"}},
		DoNothing: true,
	}).Create(&placeholder)
}

// Mutate applies fn to an existing routing under a row lock.
func (r *Repository) Mutate(ctx context.Context, id uuid.UUID, fn func(routing *models.IdeaRouting) error) (models.IdeaRouting, error) {
	var result models.IdeaRouting
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockRouting(tx, id)
		if err != nil {
			return err
		}
		routing := row.toDomain()
		if err := fn(&routing); err != nil {
			return err
		}
		result, err = saveRouting(tx, row, routing)
		return err
	})
	return result, err
}

func lockRouting(tx *gorm.DB, id uuid.UUID) (ideaRoutingModel, error) {
	var row ideaRoutingModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return row, apperr.NotFound("idea routing", id)
		}
		return row, err
	}
	return row, nil
}

// saveRouting writes routing over row, keeping its identity and creation time.
func saveRouting(tx *gorm.DB, row ideaRoutingModel, routing models.IdeaRouting) (models.IdeaRouting, error) {
	routing.ID = row.ID
	routing.IdeaID = row.IdeaID
	routing.CreatedAt = row.CreatedAt
	routing.UpdatedAt = time.Now().UTC()

	updated := fromDomain(routing)
	if err := tx.Save(&updated).Error; err != nil {
		return models.IdeaRouting{}, err
	}
	return updated.toDomain(), nil
}

// Bookings lists scheduled ideas with a calendar date inside [from, to].
func (r *Repository) Bookings(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	query, args, err := bookingsQuery(from, to).ToSql()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID           uuid.UUID
		CalendarDate time.Time
		SlotID       *uuid.UUID
	}
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	bookings := make([]models.Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, models.Booking{
			IdeaRoutingID: row.ID,
			Date:          models.DateOf(row.CalendarDate),
			SlotID:        row.SlotID,
		})
	}
	return bookings, nil
}

// Evergreen queue

// EnqueueEvergreen queues routingID for publicationID in one transaction. The
// routing row is locked and handed to fn together with the idea's unpulled
// entry for the publication, if any; fn updates the routing and returns the
// entry to write. An unpulled entry is refreshed in place, so a pair never
// holds more than one.
func (r *Repository) EnqueueEvergreen(
	ctx context.Context,
	routingID, publicationID uuid.UUID,
	fn func(routing *models.IdeaRouting, open *models.EvergreenQueueEntry) (models.EvergreenQueueEntry, error),
) (models.EvergreenQueueEntry, models.IdeaRouting, error) {
	var (
		entry   models.EvergreenQueueEntry
		routing models.IdeaRouting
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockRouting(tx, routingID)
		if err != nil {
			return err
		}

		var open *models.EvergreenQueueEntry
		var existing evergreenEntryModel
		err = tx.Where("idea_routing_id = ? AND publication_id = ? AND pulled_at IS NULL", routingID, publicationID).
			Take(&existing).Error
		switch {
		case err == nil:
			current := existing.toDomain()
			open = &current
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		current := row.toDomain()
		want, err := fn(&current, open)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if open != nil {
			existing.Score = want.Score
			existing.Tier = string(want.Tier)
			existing.IsStale = false
			existing.AddedAt = now
			if err := tx.Model(&evergreenEntryModel{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
				"score":    existing.Score,
				"tier":     existing.Tier,
				"is_stale": false,
				"added_at": now,
			}).Error; err != nil {
				return err
			}
			entry = existing.toDomain()
		} else {
			created := evergreenEntryModel{
				ID:            uuid.New(),
				IdeaRoutingID: routingID,
				PublicationID: publicationID,
				Score:         want.Score,
				Tier:          string(want.Tier),
				AddedAt:       now,
			}
			if err := tx.Create(&created).Error; err != nil {
				return err
			}
			entry = created.toDomain()
		}

		routing, err = saveRouting(tx, row, current)
		return err
	})
	if err != nil {
		return models.EvergreenQueueEntry{}, models.IdeaRouting{}, err
	}
	return entry, routing, nil
}

func (r *Repository) ListEvergreen(ctx context.Context, publicationID uuid.UUID, includePulled bool) ([]models.EvergreenQueueEntry, error) {
	query := r.db.WithContext(ctx).Where("publication_id = ?", publicationID).Order("score DESC, added_at")
	if !includePulled {
		query = query.Where("pulled_at IS NULL")
	}
	var rows []evergreenEntryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]models.EvergreenQueueEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

func (r *Repository) SetEvergreenStale(ctx context.Context, id uuid.UUID, stale bool) (models.EvergreenQueueEntry, error) {
	result := r.db.WithContext(ctx).Model(&evergreenEntryModel{}).Where("id = ?", id).Update("is_stale", stale)
	if result.Error != nil {
		return models.EvergreenQueueEntry{}, result.Error
	}
	if result.RowsAffected == 0 {
		return models.EvergreenQueueEntry{}, apperr.NotFound("evergreen entry", id)
	}
	var row evergreenEntryModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return models.EvergreenQueueEntry{}, err
	}
	return row.toDomain(), nil
}

// claimQuery selects the best queued, non-stale entry of the publication
// whose idea is still slotted, locking it with SKIP LOCKED so concurrent pulls
// never receive the same entry.
func claimQuery(tx *gorm.DB, publicationID uuid.UUID) *gorm.DB {
	return tx.Model(&evergreenEntryModel{}).
		Select("evergreen_queue.*").
		Joins("JOIN idea_routings ON idea_routings.id = evergreen_queue.idea_routing_id").
		Clauses(clause.Locking{
			Strength: "UPDATE",
			Table:    clause.Table{Name: "evergreen_queue"},
			Options:  "SKIP LOCKED",
		}).
		Where("evergreen_queue.publication_id = ? AND evergreen_queue.pulled_at IS NULL AND evergreen_queue.is_stale = ?", publicationID, false).
		Where("idea_routings.status = ?", string(models.StatusSlotted)).
		Order("evergreen_queue.score DESC, evergreen_queue.added_at")
}

// PullEvergreen claims entries of the publication one at a time and hands
// each to place inside the claiming transaction. The first entry place
// accepts is marked pulled for forDate. An entry rejected with
// apperr.ErrInvariant is marked stale and the next one is tried; any other
// error rolls the pull back and leaves the queue untouched. Returns nil when
// no entry is accepted.
func (r *Repository) PullEvergreen(
	ctx context.Context,
	publicationID uuid.UUID,
	forDate time.Time,
	reason string,
	place func(entry models.EvergreenQueueEntry) error,
) (*models.EvergreenQueueEntry, error) {
	var pulled *models.EvergreenQueueEntry
	date := models.DateOf(forDate)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for {
			var row evergreenEntryModel
			err := claimQuery(tx, publicationID).Take(&row).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			row.PulledAt = &now
			row.PulledForDate = &date
			row.PullReason = reason
			entry := row.toDomain()

			if err := place(entry); err != nil {
				if !errors.Is(err, apperr.ErrInvariant) {
					return err
				}
				if err := tx.Model(&evergreenEntryModel{}).Where("id = ?", row.ID).Update("is_stale", true).Error; err != nil {
					return err
				}
				continue
			}

			if err := tx.Model(&evergreenEntryModel{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
				"pulled_at":       now,
				"pulled_for_date": date,
				"pull_reason":     reason,
			}).Error; err != nil {
				return err
			}
			pulled = &entry
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return pulled, nil
}

// QueuedCounts returns the number of pullable entries per publication.
func (r *Repository) QueuedCounts(ctx context.Context) (map[uuid.UUID]int, error) {
	query, args, err := queuedCountsQuery().ToSql()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		PublicationID uuid.UUID
		Queued        int
	}
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		counts[row.PublicationID] = row.Queued
	}
	return counts, nil
}

func bookingsQuery(from, to time.Time) sq.SelectBuilder {
	return sq.Select("id", "calendar_date", "slot_id").
		From("idea_routings").
		Where(sq.Eq{"status": string(models.StatusScheduled)}).
		Where(sq.GtOrEq{"calendar_date": models.DateOf(from)}).
		Where(sq.LtOrEq{"calendar_date": models.DateOf(to)}).
		OrderBy("calendar_date")
}

// queuedCountsQuery counts the same entries claimQuery can pull.
func queuedCountsQuery() sq.SelectBuilder {
	return sq.Select("e.publication_id", "COUNT(*) AS queued").
		From("evergreen_queue e").
		Join("idea_routings r ON r.id = e.idea_routing_id").
		Where(sq.Eq{
			"e.pulled_at": nil,
			"e.is_stale":  false,
			"r.status":    string(models.StatusSlotted),
		}).
		GroupBy("e.publication_id")
}
