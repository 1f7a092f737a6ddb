package statuslog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type statusLogModel struct {
	ID            uuid.UUID      `gorm:"primaryKey;column:id;type:uuid"`
	IdeaRoutingID uuid.UUID      `gorm:"column:idea_routing_id;type:uuid;index"`
	FromStatus    string         `gorm:"column:from_status"`
	ToStatus      string         `gorm:"column:to_status"`
	ChangedBy     string         `gorm:"column:changed_by"`
	ChangeReason  string         `gorm:"column:change_reason"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
	CreatedAt     time.Time      `gorm:"column:created_at;index"`
}

func (statusLogModel) TableName() string { return "routing_status_logs" }

// Repository is insert-only; entries are never updated or deleted.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&statusLogModel{})
}

func (r *Repository) Append(ctx context.Context, entry models.RoutingStatusLog) error {
	metadata, _ := json.Marshal(entry.Metadata)
	row := &statusLogModel{
		ID:            uuid.New(),
		IdeaRoutingID: entry.IdeaRoutingID,
		FromStatus:    string(entry.FromStatus),
		ToStatus:      string(entry.ToStatus),
		ChangedBy:     entry.ChangedBy,
		ChangeReason:  entry.ChangeReason,
		Metadata:      datatypes.JSON(metadata),
		CreatedAt:     time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// List returns the trail for one routing, oldest first.
func (r *Repository) List(ctx context.Context, routingID uuid.UUID, limit int) ([]models.RoutingStatusLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []statusLogModel
	if err := r.db.WithContext(ctx).Where("idea_routing_id = ?", routingID).Order("created_at").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]models.RoutingStatusLog, 0, len(rows))
	for _, row := range rows {
		entry := models.RoutingStatusLog{
			ID:            row.ID,
			IdeaRoutingID: row.IdeaRoutingID,
			FromStatus:    models.RoutingStatus(row.FromStatus),
			ToStatus:      models.RoutingStatus(row.ToStatus),
			ChangedBy:     row.ChangedBy,
			ChangeReason:  row.ChangeReason,
			CreatedAt:     row.CreatedAt,
		}
		if len(row.Metadata) > 0 {
			_ = json.Unmarshal(row.Metadata, &entry.Metadata)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
