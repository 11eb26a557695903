package agent

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ConversationKey identifies one citizen/session conversation. It is an
// opaque composite key with no ordering semantics.
type ConversationKey struct {
	CitizenID    int64
	SessionToken string
}

// EscalationTracker records which conversations have been handed to a human.
// While a key is escalated the pipeline must not generate answers for it;
// only an explicit Clear resets the state. Semantics are best-effort set
// membership, not linearizable: concurrent escalate/clear on the same key may
// interleave, matching the simple set the service needs.
type EscalationTracker interface {
	IsEscalated(ctx context.Context, key ConversationKey) bool
	Escalate(ctx context.Context, key ConversationKey)
	Clear(ctx context.Context, key ConversationKey)
}

// MemoryEscalations is the default tracker: a mutex-guarded set living for
// the process lifetime. State is lost on restart, which clears all
// escalations; that loss is accepted behavior, not a bug.
type MemoryEscalations struct {
	mu   sync.Mutex
	keys map[ConversationKey]struct{}
}

// NewMemoryEscalations builds an empty in-process tracker.
func NewMemoryEscalations() *MemoryEscalations {
	return &MemoryEscalations{keys: make(map[ConversationKey]struct{})}
}

func (m *MemoryEscalations) IsEscalated(_ context.Context, key ConversationKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

func (m *MemoryEscalations) Escalate(_ context.Context, key ConversationKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
}

func (m *MemoryEscalations) Clear(_ context.Context, key ConversationKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
}

// Keys returns a snapshot of currently escalated conversations, for the
// staff console.
func (m *MemoryEscalations) Keys() []ConversationKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConversationKey, 0, len(m.keys))
	for k := range m.keys {
		out = append(out, k)
	}
	return out
}

// RedisEscalations backs the tracker with Redis so escalations survive a
// process restart and are shared across replicas. Redis failures degrade to
// not-escalated and are logged; the tracker stays best-effort either way.
type RedisEscalations struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisEscalations wraps an existing redis client.
func NewRedisEscalations(client *redis.Client, logger *log.Logger) *RedisEscalations {
	if logger == nil {
		logger = log.New(log.Writer(), "[ESCALATION] ", log.LstdFlags)
	}
	return &RedisEscalations{client: client, logger: logger}
}

func escalationKey(key ConversationKey) string {
	return fmt.Sprintf("escalation:%d:%s", key.CitizenID, key.SessionToken)
}

func (r *RedisEscalations) IsEscalated(ctx context.Context, key ConversationKey) bool {
	n, err := r.client.Exists(ctx, escalationKey(key)).Result()
	if err != nil {
		r.logger.Printf("escalation lookup failed: %v", err)
		return false
	}
	return n == 1
}

func (r *RedisEscalations) Escalate(ctx context.Context, key ConversationKey) {
	if err := r.client.Set(ctx, escalationKey(key), "1", 0).Err(); err != nil {
		r.logger.Printf("escalation set failed: %v", err)
	}
}

func (r *RedisEscalations) Clear(ctx context.Context, key ConversationKey) {
	if err := r.client.Del(ctx, escalationKey(key)).Err(); err != nil {
		r.logger.Printf("escalation clear failed: %v", err)
	}
}

// Keys scans the escalation namespace and returns the escalated
// conversations, for the staff console. Scan failures degrade to an empty
// snapshot.
func (r *RedisEscalations) Keys() []ConversationKey {
	ctx := context.Background()
	var out []ConversationKey
	iter := r.client.Scan(ctx, 0, "escalation:*", 200).Iterator()
	for iter.Next(ctx) {
		var key ConversationKey
		if _, err := fmt.Sscanf(iter.Val(), "escalation:%d:%s", &key.CitizenID, &key.SessionToken); err != nil {
			continue
		}
		out = append(out, key)
	}
	if err := iter.Err(); err != nil {
		r.logger.Printf("escalation scan failed: %v", err)
	}
	return out
}
