package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	diagramKeyPrefix = "diagram:"
	diagramListKey   = "diagrams"
)

// RedisStore implements GraphStore using Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed diagram store.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store using an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) diagramKey(id string) string {
	return diagramKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, d *Diagram) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	exists, err := s.client.Exists(ctx, s.diagramKey(d.ID)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists > 0 {
		return ErrDiagramExists
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal diagram: %w", err)
	}

	// Transaction sets the diagram and adds it to the index.
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.diagramKey(d.ID), data, 0)
	pipe.SAdd(ctx, diagramListKey, d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save diagram: %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Diagram, error) {
	data, err := s.client.Get(ctx, s.diagramKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrDiagramNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get diagram: %w", err)
	}

	var d Diagram
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal diagram: %w", err)
	}

	return &d, nil
}

func (s *RedisStore) Update(ctx context.Context, d *Diagram) error {
	existing, err := s.Get(ctx, d.ID)
	if err != nil {
		return err
	}

	// Creation provenance is immutable.
	d.CreatedAt = existing.CreatedAt
	d.CreatedBy = existing.CreatedBy
	d.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal diagram: %w", err)
	}

	if err := s.client.Set(ctx, s.diagramKey(d.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("save diagram: %w", err)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, s.diagramKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists == 0 {
		return ErrDiagramNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.diagramKey(id))
	pipe.SRem(ctx, diagramListKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete diagram: %w", err)
	}

	return nil
}

func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*Diagram, error) {
	ids, err := s.client.SMembers(ctx, diagramListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list diagram ids: %w", err)
	}

	var diagrams []*Diagram
	for _, id := range ids {
		d, err := s.Get(ctx, id)
		if err == ErrDiagramNotFound {
			// Stale index reference, clean up
			s.client.SRem(ctx, diagramListKey, id)
			continue
		}
		if err != nil {
			continue // Skip on error
		}
		diagrams = append(diagrams, d)
	}

	sort.Slice(diagrams, func(i, j int) bool {
		if diagrams[i].CreatedAt.Equal(diagrams[j].CreatedAt) {
			return diagrams[i].ID < diagrams[j].ID
		}
		return diagrams[i].CreatedAt.After(diagrams[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(diagrams) {
			return []*Diagram{}, nil
		}
		diagrams = diagrams[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(diagrams) {
		diagrams = diagrams[:opts.Limit]
	}

	return diagrams, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, diagramListKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count diagrams: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Verify interface compliance
var _ GraphStore = (*RedisStore)(nil)
