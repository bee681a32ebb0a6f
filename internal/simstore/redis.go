package simstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flowpulse/flowpulse/pkg/types"
)

// RedisStore implements SimStore backed by Redis.
// Uses a hash for simulation metadata, a plain key for the graph snapshot,
// and a Redis Stream for the event log.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	maxLen int64
	mu     sync.Mutex
	closed bool

	// Subscriber management
	subsMu sync.RWMutex
	subs   map[string]map[chan *types.Event]struct{} // simID -> set of channels
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Prefix for all keys (default: "sims")
	Prefix string

	// TTL for simulation data (default: 24h)
	TTL time.Duration

	// EventMaxLen caps the event stream length
	EventMaxLen int64

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "sims",
		TTL:          24 * time.Hour,
		EventMaxLen:  5000,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed SimStore.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "sims"
	}
	maxLen := cfg.EventMaxLen
	if maxLen <= 0 {
		maxLen = 5000
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		maxLen: maxLen,
		subs:   make(map[string]map[chan *types.Event]struct{}),
	}, nil
}

// Key helpers
func (s *RedisStore) keyMeta(simID string) string   { return fmt.Sprintf("%s:%s:meta", s.prefix, simID) }
func (s *RedisStore) keyGraph(simID string) string  { return fmt.Sprintf("%s:%s:graph", s.prefix, simID) }
func (s *RedisStore) keyEvents(simID string) string { return fmt.Sprintf("%s:%s:events", s.prefix, simID) }
func (s *RedisStore) keySeq(simID string) string    { return fmt.Sprintf("%s:%s:seq", s.prefix, simID) }
func (s *RedisStore) keyIndex() string              { return s.prefix + ":index" }

// setTTL refreshes TTL on all keys for a simulation.
func (s *RedisStore) setTTL(ctx context.Context, simID string) error {
	if s.ttl <= 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, s.keyMeta(simID), s.ttl)
	pipe.Expire(ctx, s.keyGraph(simID), s.ttl)
	pipe.Expire(ctx, s.keyEvents(simID), s.ttl)
	pipe.Expire(ctx, s.keySeq(simID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CreateSim(ctx context.Context, name string, graph *types.Graph, graphID string) (string, error) {
	simID := uuid.New().String()
	now := time.Now().UTC()

	graphJSON := []byte("{}")
	if graph != nil {
		graphJSON, _ = json.Marshal(graph)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.keyMeta(simID), map[string]any{
		"simId":     simID,
		"name":      name,
		"status":    string(types.SimStatusCreated),
		"graphId":   graphID,
		"autoLoop":  "false",
		"vars":      "",
		"startedAt": "",
		"stoppedAt": "",
		"createdAt": now.Format(time.RFC3339Nano),
		"updatedAt": now.Format(time.RFC3339Nano),
	})
	pipe.Set(ctx, s.keyGraph(simID), string(graphJSON), 0)
	pipe.Set(ctx, s.keySeq(simID), "0", 0)
	pipe.SAdd(ctx, s.keyIndex(), simID)

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create sim: %w", err)
	}

	if err := s.setTTL(ctx, simID); err != nil {
		slog.Warn("failed to set TTL for sim", slog.String("sim_id", simID), slog.Any("error", err))
	}

	return simID, nil
}

func (s *RedisStore) metaToSimMeta(simID string, meta map[string]string) *types.SimMeta {
	result := &types.SimMeta{
		ID:      simID,
		Name:    meta["name"],
		Status:  types.SimStatus(meta["status"]),
		GraphID: meta["graphId"],
	}

	if t, err := time.Parse(time.RFC3339Nano, meta["startedAt"]); err == nil {
		result.StartedAt = &t
	}
	if t, err := time.Parse(time.RFC3339Nano, meta["stoppedAt"]); err == nil {
		result.StoppedAt = &t
	}
	if t, err := time.Parse(time.RFC3339Nano, meta["createdAt"]); err == nil {
		result.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, meta["updatedAt"]); err == nil {
		result.UpdatedAt = t
	}

	return result
}

func (s *RedisStore) GetSimMeta(ctx context.Context, simID string) (*types.SimMeta, error) {
	meta, err := s.client.HGetAll(ctx, s.keyMeta(simID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get sim meta: %w", err)
	}
	if len(meta) == 0 {
		return nil, ErrSimNotFound
	}
	return s.metaToSimMeta(simID, meta), nil
}

func (s *RedisStore) GetSim(ctx context.Context, simID string) (*types.Sim, error) {
	pipe := s.client.Pipeline()
	metaCmd := pipe.HGetAll(ctx, s.keyMeta(simID))
	graphCmd := pipe.Get(ctx, s.keyGraph(simID))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get sim: %w", err)
	}

	meta, err := metaCmd.Result()
	if err != nil || len(meta) == 0 {
		return nil, ErrSimNotFound
	}

	m := s.metaToSimMeta(simID, meta)
	sim := &types.Sim{
		ID:        m.ID,
		Name:      m.Name,
		Status:    m.Status,
		GraphID:   m.GraphID,
		StartedAt: m.StartedAt,
		StoppedAt: m.StoppedAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}

	sim.AutoLoop = meta["autoLoop"] == "true"
	if varsJSON := meta["vars"]; varsJSON != "" {
		var vars map[string]any
		if json.Unmarshal([]byte(varsJSON), &vars) == nil {
			sim.Vars = vars
		}
	}

	if graphJSON, err := graphCmd.Result(); err == nil && graphJSON != "" {
		var graph types.Graph
		if json.Unmarshal([]byte(graphJSON), &graph) == nil {
			sim.Graph = &graph
		}
	}

	return sim, nil
}

func (s *RedisStore) ListSims(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sims: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) UpdateSimStatus(ctx context.Context, simID string, status types.SimStatus, startedAt, stoppedAt *time.Time) error {
	exists, err := s.client.Exists(ctx, s.keyMeta(simID)).Result()
	if err != nil {
		return fmt.Errorf("check sim exists: %w", err)
	}
	if exists == 0 {
		return ErrSimNotFound
	}

	fields := map[string]any{
		"status":    string(status),
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if startedAt != nil {
		fields["startedAt"] = startedAt.UTC().Format(time.RFC3339Nano)
	}
	if stoppedAt != nil {
		fields["stoppedAt"] = stoppedAt.UTC().Format(time.RFC3339Nano)
	}

	if err := s.client.HSet(ctx, s.keyMeta(simID), fields).Err(); err != nil {
		return fmt.Errorf("update sim status: %w", err)
	}

	s.setTTL(ctx, simID)
	return nil
}

func (s *RedisStore) UpdateSimGraph(ctx context.Context, simID string, graph *types.Graph) error {
	exists, err := s.client.Exists(ctx, s.keyMeta(simID)).Result()
	if err != nil {
		return fmt.Errorf("check sim exists: %w", err)
	}
	if exists == 0 {
		return ErrSimNotFound
	}

	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.keyGraph(simID), string(graphJSON), 0)
	pipe.HSet(ctx, s.keyMeta(simID), "updatedAt", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update sim graph: %w", err)
	}

	s.setTTL(ctx, simID)
	return nil
}

func (s *RedisStore) UpdateSimOptions(ctx context.Context, simID string, autoLoop bool, vars map[string]any) error {
	exists, err := s.client.Exists(ctx, s.keyMeta(simID)).Result()
	if err != nil {
		return fmt.Errorf("check sim exists: %w", err)
	}
	if exists == 0 {
		return ErrSimNotFound
	}

	varsJSON := ""
	if vars != nil {
		b, err := json.Marshal(vars)
		if err != nil {
			return fmt.Errorf("marshal vars: %w", err)
		}
		varsJSON = string(b)
	}

	fields := map[string]any{
		"autoLoop":  strconv.FormatBool(autoLoop),
		"vars":      varsJSON,
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, s.keyMeta(simID), fields).Err(); err != nil {
		return fmt.Errorf("update sim options: %w", err)
	}

	s.setTTL(ctx, simID)
	return nil
}

func (s *RedisStore) DeleteSim(ctx context.Context, simID string) error {
	exists, err := s.client.Exists(ctx, s.keyMeta(simID)).Result()
	if err != nil {
		return fmt.Errorf("check sim exists: %w", err)
	}
	if exists == 0 {
		return ErrSimNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyMeta(simID), s.keyGraph(simID), s.keyEvents(simID), s.keySeq(simID))
	pipe.SRem(ctx, s.keyIndex(), simID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete sim: %w", err)
	}

	// End any attached streams.
	s.subsMu.Lock()
	for ch := range s.subs[simID] {
		close(ch)
	}
	delete(s.subs, simID)
	s.subsMu.Unlock()

	return nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, simID string, input *types.EventInput) (*types.Event, error) {
	seq, err := s.client.Incr(ctx, s.keySeq(simID)).Result()
	if err != nil {
		return nil, fmt.Errorf("incr seq: %w", err)
	}

	now := time.Now().UTC()
	eventID := strconv.FormatInt(seq, 10)

	dataBytes, _ := json.Marshal(input.Data)

	event := &types.Event{
		ID:        eventID,
		SimID:     simID,
		Type:      input.Type,
		NodeID:    input.NodeID,
		Timestamp: now,
		Data:      dataBytes,
	}

	streamFields := map[string]any{
		"seq":    eventID,
		"ts":     now.Format(time.RFC3339Nano),
		"type":   string(input.Type),
		"data":   string(dataBytes),
		"nodeId": input.NodeID,
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.keyEvents(simID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: streamFields,
	}).Err(); err != nil {
		return nil, fmt.Errorf("xadd: %w", err)
	}

	s.setTTL(ctx, simID)
	s.notifySubscribers(simID, event)

	return event, nil
}

func (s *RedisStore) eventFromStreamValues(simID string, values map[string]any) *types.Event {
	seqStr, _ := values["seq"].(string)
	ts, _ := values["ts"].(string)
	timestamp, _ := time.Parse(time.RFC3339Nano, ts)
	eventType, _ := values["type"].(string)
	data, _ := values["data"].(string)
	nodeID, _ := values["nodeId"].(string)

	return &types.Event{
		ID:        seqStr,
		SimID:     simID,
		Type:      types.EventType(eventType),
		NodeID:    nodeID,
		Timestamp: timestamp,
		Data:      json.RawMessage(data),
	}
}

func (s *RedisStore) GetEventsSince(ctx context.Context, simID string, lastEventID string) ([]*types.Event, error) {
	entries, err := s.client.XRange(ctx, s.keyEvents(simID), "-", "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*types.Event{}, nil
		}
		return nil, fmt.Errorf("xrange: %w", err)
	}

	var lastSeq int64
	if lastEventID != "" {
		lastSeq, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	var events []*types.Event
	for _, entry := range entries {
		evt := s.eventFromStreamValues(simID, entry.Values)
		seq, _ := strconv.ParseInt(evt.ID, 10, 64)
		if lastSeq > 0 && seq <= lastSeq {
			continue
		}
		events = append(events, evt)
	}

	return events, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, simID string) (<-chan *types.Event, func(), error) {
	exists, err := s.client.Exists(ctx, s.keyMeta(simID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("check sim exists: %w", err)
	}
	if exists == 0 {
		return nil, nil, ErrSimNotFound
	}

	ch := make(chan *types.Event, 100)

	s.subsMu.Lock()
	if s.subs[simID] == nil {
		s.subs[simID] = make(map[chan *types.Event]struct{})
	}
	s.subs[simID][ch] = struct{}{}
	s.subsMu.Unlock()

	// Background reader keeps remote appends (another replica writing the
	// stream) flowing to this subscriber as well.
	readerCtx, cancelReader := context.WithCancel(ctx)
	go s.streamReader(readerCtx, simID, ch)

	cleanup := func() {
		cancelReader()
		s.subsMu.Lock()
		if set, ok := s.subs[simID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(s.subs, simID)
			}
		}
		s.subsMu.Unlock()
	}

	return ch, cleanup, nil
}

// streamReader tails the Redis Stream and pushes entries to the channel.
func (s *RedisStore) streamReader(ctx context.Context, simID string, ch chan *types.Event) {
	lastID := "$" // Start from latest

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.keyEvents(simID), lastID},
			Count:   10,
			Block:   time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				lastID = entry.ID
				event := s.eventFromStreamValues(simID, entry.Values)

				select {
				case ch <- event:
				case <-ctx.Done():
					return
				default:
					// Channel full, skip event.
				}
			}
		}
	}
}

// notifySubscribers sends an event to all local subscribers for a simulation.
func (s *RedisStore) notifySubscribers(simID string, event *types.Event) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for ch := range s.subs[simID] {
		select {
		case ch <- event:
		default:
			// Channel full, skip.
		}
	}
}

func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]any, error) {
	pingStart := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return map[string]any{
			"adapter": "redis",
			"healthy": false,
			"error":   err.Error(),
		}, nil
	}
	pingLatency := time.Since(pingStart)

	poolStats := s.client.PoolStats()

	return map[string]any{
		"adapter": "redis",
		"healthy": true,
		"details": map[string]any{
			"prefix":       s.prefix,
			"ttl_hours":    s.ttl.Hours(),
			"ping_latency": pingLatency.String(),
			"pool": map[string]any{
				"hits":       poolStats.Hits,
				"misses":     poolStats.Misses,
				"timeouts":   poolStats.Timeouts,
				"total_conn": poolStats.TotalConns,
				"idle_conn":  poolStats.IdleConns,
			},
		},
	}, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.client.Close()
}

// Ensure RedisStore implements SimStore
var _ SimStore = (*RedisStore)(nil)
