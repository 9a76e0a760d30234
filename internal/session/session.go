package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"document-qa/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is the small key-value state kept for one browser session. The
// parsed document and its index live in process memory, never in here.
type State struct {
	APIKey           string    `json:"api_key"`
	APIKeyConfigured bool      `json:"api_key_configured"`
	Submitted        bool      `json:"submitted"`
	DocumentName     string    `json:"document_name,omitempty"`
	LastQuestion     string    `json:"last_question,omitempty"`
	ShowAllChunks    bool      `json:"show_all_chunks"`
	ShowFullDoc      bool      `json:"show_full_doc"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store persists session state by session id. Get reports found=false for
// unknown or expired sessions.
type Store interface {
	Get(ctx context.Context, id string) (*State, bool, error)
	Save(ctx context.Context, id string, state *State) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like a session id issued by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewStore builds the store selected by cfg.Store.
func NewStore(ctx context.Context, cfg *config.SessionConfig) (Store, error) {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	switch strings.ToLower(cfg.Store) {
	case "memory", "":
		log.Debug().Dur("ttl", ttl).Msg("Using in-memory session store")
		return NewMemoryStore(ttl), nil
	case "redis":
		client, err := NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("addr", cfg.Redis.Addr).Dur("ttl", ttl).Msg("Using redis session store")
		return NewRedisStore(client, ttl), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}
