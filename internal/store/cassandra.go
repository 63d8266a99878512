package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/domain"
)

// CassandraStore persists offline notifications to the
// offline_notifications_by_user table, partitioned by recipient:
//
//	CREATE TABLE offline_notifications_by_user (
//	    user_id        text,
//	    event_id       text,
//	    event_type     text,
//	    sender_user_id text,
//	    room_id        text,
//	    payload        blob,
//	    created_at     timestamp,
//	    delivered      boolean,
//	    delivered_at   timestamp,
//	    PRIMARY KEY ((user_id), event_id)
//	);
type CassandraStore struct {
	session *gocql.Session
}

// NewCassandraStore establishes a Cassandra session with bounded retry at
// the adapter boundary.
func NewCassandraStore(cfg config.CassandraConfig) (*CassandraStore, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	cluster.NumConns = cfg.NumConns

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraStore{session: session}, nil
}

func (s *CassandraStore) Store(ctx context.Context, n *domain.OfflineNotification) error {
	query := `
		INSERT INTO offline_notifications_by_user (
			user_id, event_id, event_type, sender_user_id, room_id, payload, created_at, delivered
		) VALUES (?, ?, ?, ?, ?, ?, ?, false)`

	err := s.session.Query(query,
		n.Event.RecipientUserID,
		n.Event.EventID,
		string(n.Event.Type),
		n.Event.SenderUserID,
		n.Event.RoomID,
		[]byte(n.Event.Payload),
		n.Event.CreatedAt,
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *CassandraStore) FetchUndelivered(ctx context.Context, userID string) ([]*domain.OfflineNotification, error) {
	query := `
		SELECT event_id, event_type, sender_user_id, room_id, payload, created_at, delivered
		FROM offline_notifications_by_user
		WHERE user_id = ?`

	iter := s.session.Query(query, userID).WithContext(ctx).Iter()

	var out []*domain.OfflineNotification
	var (
		eventID, eventType, senderID, roomID string
		payload                              []byte
		createdAt                            time.Time
		delivered                            bool
	)
	for iter.Scan(&eventID, &eventType, &senderID, &roomID, &payload, &createdAt, &delivered) {
		if delivered {
			continue
		}
		out = append(out, &domain.OfflineNotification{
			Event: &domain.Event{
				EventID:         eventID,
				Type:            domain.EventType(eventType),
				RecipientUserID: userID,
				SenderUserID:    senderID,
				RoomID:          roomID,
				Payload:         append([]byte(nil), payload...),
				CreatedAt:       createdAt,
			},
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Clustering is by event_id; order by creation time here.
	sort.Slice(out, func(i, j int) bool {
		return out[i].Event.CreatedAt.Before(out[j].Event.CreatedAt)
	})
	return out, nil
}

func (s *CassandraStore) MarkDelivered(ctx context.Context, eventID, userID string) error {
	query := `
		UPDATE offline_notifications_by_user
		SET delivered = true, delivered_at = ?
		WHERE user_id = ? AND event_id = ?`

	err := s.session.Query(query, time.Now().UTC(), userID, eventID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *CassandraStore) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}
