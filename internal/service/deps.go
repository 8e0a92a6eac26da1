package service

import (
	"context"

	"sms-panel/internal/client"
	"sms-panel/internal/models"
)

// Store is the durable local key-value store for panel state. Implemented
// by repository/redis.PanelStore; tests substitute an in-memory fake.
type Store interface {
	SaveSession(session models.Session) error
	LoadSession() (models.Session, bool, error)
	ClearSession() error

	SaveHistory(records []models.SendRecord) error
	LoadHistory() ([]models.SendRecord, error)
	ClearHistory() error

	SetSetting(name, value string) error
	GetSetting(name string) (string, error)
}

// Backend is the remote SMS backend API. Implemented by client.BackendClient.
type Backend interface {
	Login(ctx context.Context, key string) (*client.LoginResult, error)
	VerifyTwoFactor(ctx context.Context, tempToken, code string) (*client.LoginResult, error)
	SendSMS(ctx context.Context, token, phone, email string, count, mode int) (*client.SendResult, error)
	ListUsers(ctx context.Context, token string) ([]client.UserRecord, error)
	AddKey(ctx context.Context, token string, req client.AddKeyRequest) (*client.MutationResult, error)
	DeleteUser(ctx context.Context, token, id string) (*client.MutationResult, error)
	GetAPIURL(ctx context.Context) (string, error)
	SetAPIURL(ctx context.Context, token, apiURL string) (*client.MutationResult, error)
	GetBackendURL(ctx context.Context) (string, error)
	SetBackendURL(ctx context.Context, token, backendURL string) (*client.MutationResult, error)
	TwoFactorStatus(ctx context.Context, token string) (*client.TwoFactorStatus, error)
	EnableTwoFactor(ctx context.Context, token string) (*client.TwoFactorSetup, error)
	ConfirmTwoFactorSetup(ctx context.Context, token, code string) (*client.MutationResult, error)
	DisableTwoFactor(ctx context.Context, token string) (*client.MutationResult, error)
}
