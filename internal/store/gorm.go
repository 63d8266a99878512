package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/domain"
)

// OfflineNotificationRecord is the relational row for a stored event.
type OfflineNotificationRecord struct {
	EventID      string     `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID       string     `gorm:"type:TEXT NOT NULL;index:idx_user_delivered,priority:1"`
	EventType    string     `gorm:"type:TEXT NOT NULL"`
	SenderUserID string     `gorm:"type:TEXT"`
	RoomID       string     `gorm:"type:TEXT"`
	Payload      []byte     `gorm:"type:BLOB"`
	CreatedAt    time.Time  `gorm:"index"`
	Delivered    bool       `gorm:"index:idx_user_delivered,priority:2"`
	DeliveredAt  *time.Time
}

// TableName implements the GORM tabler interface.
func (OfflineNotificationRecord) TableName() string { return "offline_notifications" }

// GormStore is a relational OfflineStore for deployments whose durable
// collaborator is a SQL database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the configured database and migrates the schema.
func NewGormStore(cfg config.DatabaseConfig) (*GormStore, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		)
		dialector = postgres.Open(dsn)

	case "mysql":
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
		)
		dialector = mysql.Open(dsn)

	case "sqlite":
		dialector = sqlite.Open(cfg.FilePath)

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&OfflineNotificationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate offline notifications table: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Store(ctx context.Context, n *domain.OfflineNotification) error {
	record := &OfflineNotificationRecord{
		EventID:      n.Event.EventID,
		UserID:       n.Event.RecipientUserID,
		EventType:    string(n.Event.Type),
		SenderUserID: n.Event.SenderUserID,
		RoomID:       n.Event.RoomID,
		Payload:      []byte(n.Event.Payload),
		CreatedAt:    n.Event.CreatedAt,
	}

	// At-least-once origination can store the same event twice.
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *GormStore) FetchUndelivered(ctx context.Context, userID string) ([]*domain.OfflineNotification, error) {
	var records []OfflineNotificationRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND delivered = ?", userID, false).
		Order("created_at asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]*domain.OfflineNotification, 0, len(records))
	for _, r := range records {
		out = append(out, &domain.OfflineNotification{
			Event: &domain.Event{
				EventID:         r.EventID,
				Type:            domain.EventType(r.EventType),
				RecipientUserID: r.UserID,
				SenderUserID:    r.SenderUserID,
				RoomID:          r.RoomID,
				Payload:         json.RawMessage(r.Payload),
				CreatedAt:       r.CreatedAt,
			},
			Delivered:   r.Delivered,
			DeliveredAt: r.DeliveredAt,
		})
	}
	return out, nil
}

func (s *GormStore) MarkDelivered(ctx context.Context, eventID, userID string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&OfflineNotificationRecord{}).
		Where("event_id = ? AND user_id = ? AND delivered = ?", eventID, userID, false).
		Updates(map[string]interface{}{"delivered": true, "delivered_at": &now}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
