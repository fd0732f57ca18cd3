package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docchatgo/internal/redis"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	mirrorKeyPrefix    = "docchat:session:"
	mirrorInvalidateCh = "docchat:session:invalidate"
	defaultMirrorTTL   = 2 * time.Hour
)

// mirrorRecord is the part of a session that survives an instance restart.
type mirrorRecord struct {
	Settings      Settings          `json:"settings"`
	PromptHistory []string          `json:"prompt_history,omitempty"`
	SealedKeys    map[string]string `json:"sealed_keys,omitempty"`
}

type invalidation struct {
	Session string `json:"session"`
	Origin  string `json:"origin"`
}

// Mirror copies session settings to redis so other instances can pick them up.
// API keys are mirrored only when an encryption key is configured.
type Mirror struct {
	client   *redis.Client
	cipher   *tokenCipher
	ttl      time.Duration
	instance string
	logger   *zap.Logger
}

func NewMirror(client *redis.Client, ttl time.Duration, logger *zap.Logger) (*Mirror, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	c, err := newTokenCipherFromEnv()
	if err != nil {
		return nil, err
	}
	if c == nil {
		logger.Warn("session api keys will not be mirrored", zap.String("missing_env", KeyEncryptionEnv))
	}
	return &Mirror{client: client, cipher: c, ttl: ttl, instance: uuid.NewString(), logger: logger.Named("mirror")}, nil
}

func mirrorKey(id string) string {
	return mirrorKeyPrefix + id
}

func (m *Mirror) save(ctx context.Context, st *State) error {
	rec := mirrorRecord{
		Settings:      st.Settings,
		PromptHistory: st.PromptHistory,
	}
	if m.cipher != nil && len(st.Keys) > 0 {
		rec.SealedKeys = make(map[string]string, len(st.Keys))
		for provider, key := range st.Keys {
			if key == "" {
				continue
			}
			sealed, err := m.cipher.seal(key)
			if err != nil {
				return fmt.Errorf("seal %s key: %w", provider, err)
			}
			rec.SealedKeys[provider] = sealed
		}
	}
	return m.client.SetJSON(ctx, mirrorKey(st.ID), rec, m.ttl)
}

// restore fills st from redis. It reports false on a miss.
func (m *Mirror) restore(ctx context.Context, st *State) (bool, error) {
	var rec mirrorRecord
	if err := m.client.GetJSON(ctx, mirrorKey(st.ID), &rec); err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return false, nil
		}
		return false, err
	}
	st.Settings = rec.Settings
	st.PromptHistory = rec.PromptHistory
	if m.cipher != nil {
		for provider, sealed := range rec.SealedKeys {
			key, err := m.cipher.open(sealed)
			if err != nil {
				m.logger.Warn("dropping undecryptable api key", zap.String("provider", provider), zap.Error(err))
				continue
			}
			st.Keys[provider] = key
		}
	}
	if err := m.client.Expire(ctx, mirrorKey(st.ID), m.ttl); err != nil {
		m.logger.Debug("refresh mirror ttl failed", zap.Error(err))
	}
	return true, nil
}

func (m *Mirror) remove(ctx context.Context, id string) error {
	if err := m.client.Del(ctx, mirrorKey(id)); err != nil {
		return err
	}
	payload, err := json.Marshal(invalidation{Session: id, Origin: m.instance})
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, mirrorInvalidateCh, string(payload))
}

// listen calls drop for sessions deleted by other instances.
func (m *Mirror) listen(ctx context.Context, drop func(id string)) error {
	return m.client.Subscribe(ctx, mirrorInvalidateCh, func(payload string) {
		var inv invalidation
		if err := json.Unmarshal([]byte(payload), &inv); err != nil {
			m.logger.Warn("invalidation decode failed", zap.Error(err))
			return
		}
		if inv.Origin == m.instance || inv.Session == "" {
			return
		}
		drop(inv.Session)
	})
}
