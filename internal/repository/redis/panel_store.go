package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-panel/internal/client"
	"sms-panel/internal/models"
	"sms-panel/internal/util"
)

const (
	sessionKey     = "panel:session"
	historyKey     = "panel:history"
	settingsPrefix = "panel:settings:"
)

// Setting names persisted under settingsPrefix.
const (
	SettingAPIURL     = "api_url"
	SettingBackendURL = "backend_url"
	SettingTheme      = "theme"
)

// PanelStore persists the panel's durable state (session blob, send history,
// settings) as JSON values in the local key-value store. It is a best-effort
// cache: a missing or malformed value is reported, never fatal.
type PanelStore struct {
	client *client.RedisClient
}

func NewPanelStore(client *client.RedisClient) *PanelStore {
	return &PanelStore{client: client}
}

func (s *PanelStore) SaveSession(session models.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(session)
	if err != nil {
		util.Error("Failed to marshal session", zap.Error(err))
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey, string(data), 0); err != nil {
		util.Error("Failed to persist session", zap.Error(err))
		return fmt.Errorf("failed to persist session: %w", err)
	}
	util.Debug("Session persisted", zap.Bool("authenticated", session.Authenticated))
	return nil
}

// LoadSession returns the persisted session and whether one was found.
// A malformed blob is treated as absent.
func (s *PanelStore) LoadSession() (models.Session, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := s.client.Get(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return models.EmptySession(), false, nil
		}
		util.Error("Failed to load session", zap.Error(err))
		return models.EmptySession(), false, fmt.Errorf("failed to load session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		util.Warn("Persisted session is malformed, discarding", zap.Error(err))
		return models.EmptySession(), false, nil
	}
	return session, true, nil
}

func (s *PanelStore) ClearSession() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, sessionKey); err != nil {
		util.Error("Failed to clear persisted session", zap.Error(err))
		return fmt.Errorf("failed to clear persisted session: %w", err)
	}
	util.Debug("Persisted session cleared")
	return nil
}

func (s *PanelStore) SaveHistory(records []models.SendRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(records)
	if err != nil {
		util.Error("Failed to marshal send history", zap.Error(err))
		return fmt.Errorf("failed to marshal send history: %w", err)
	}
	if err := s.client.Set(ctx, historyKey, string(data), 0); err != nil {
		util.Error("Failed to persist send history", zap.Int("records", len(records)), zap.Error(err))
		return fmt.Errorf("failed to persist send history: %w", err)
	}
	return nil
}

func (s *PanelStore) LoadHistory() ([]models.SendRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := s.client.Get(ctx, historyKey)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, nil
		}
		util.Error("Failed to load send history", zap.Error(err))
		return nil, fmt.Errorf("failed to load send history: %w", err)
	}

	var records []models.SendRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		util.Warn("Persisted send history is malformed, discarding", zap.Error(err))
		return nil, nil
	}
	return records, nil
}

func (s *PanelStore) ClearHistory() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, historyKey); err != nil {
		util.Error("Failed to clear send history", zap.Error(err))
		return fmt.Errorf("failed to clear send history: %w", err)
	}
	util.Info("Send history cleared")
	return nil
}

func (s *PanelStore) SetSetting(name, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := settingsPrefix + name
	if err := s.client.Set(ctx, key, value, 0); err != nil {
		util.Error("Failed to persist setting", zap.String("setting", name), zap.Error(err))
		return fmt.Errorf("failed to persist setting %s: %w", name, err)
	}
	util.Debug("Setting persisted", zap.String("setting", name))
	return nil
}

// GetSetting returns the stored value, or "" if the setting was never set.
func (s *PanelStore) GetSetting(name string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	value, err := s.client.Get(ctx, settingsPrefix+name)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", nil
		}
		util.Error("Failed to load setting", zap.String("setting", name), zap.Error(err))
		return "", fmt.Errorf("failed to load setting %s: %w", name, err)
	}
	return value, nil
}
