package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/pkg/config"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type settingsRepository interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error)
	Get(ctx context.Context, key string) (*models.Configuration, error)
	UpsertAudited(ctx context.Context, cfg *models.Configuration, audit *models.AuditLog) error
}

type allowedSetting struct {
	Key         string
	Type        models.ConfigurationType
	Description string
	Min         int
}

var registrationSettingKeys = []string{
	models.SettingMaxCreditsPerTerm,
	models.SettingMaxWaitlistEntriesPerStudent,
	models.SettingWaitlistEnabled,
	models.SettingAddDropEnabled,
}

var allowedSettings = map[string]allowedSetting{
	models.SettingMaxCreditsPerTerm: {
		Key:         models.SettingMaxCreditsPerTerm,
		Type:        models.ConfigurationTypeInteger,
		Description: "Maximum enrolled credits per student per term",
		Min:         1,
	},
	models.SettingMaxWaitlistEntriesPerStudent: {
		Key:         models.SettingMaxWaitlistEntriesPerStudent,
		Type:        models.ConfigurationTypeInteger,
		Description: "Maximum simultaneous waitlist entries per student per term",
		Min:         0,
	},
	models.SettingWaitlistEnabled: {
		Key:         models.SettingWaitlistEnabled,
		Type:        models.ConfigurationTypeBoolean,
		Description: "Queue students when a section is full",
	},
	models.SettingAddDropEnabled: {
		Key:         models.SettingAddDropEnabled,
		Type:        models.ConfigurationTypeBoolean,
		Description: "Add/drop window is open",
	},
}

// SettingsService manages the admin-owned registration settings and hands
// out immutable snapshots to the registration core.
type SettingsService struct {
	repo      settingsRepository
	validator *validator.Validate
	logger    *zap.Logger
	defaults  map[string]string
}

// NewSettingsService constructs a SettingsService falling back to defaults for unset keys.
func NewSettingsService(repo settingsRepository, defaults config.RegistrationDefaults, validate *validator.Validate, logger *zap.Logger) *SettingsService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{
		repo:      repo,
		validator: validate,
		logger:    logger,
		defaults: map[string]string{
			models.SettingMaxCreditsPerTerm:            strconv.Itoa(defaults.MaxCreditsPerTerm),
			models.SettingMaxWaitlistEntriesPerStudent: strconv.Itoa(defaults.MaxWaitlistEntriesPerStudent),
			models.SettingWaitlistEnabled:              strconv.FormatBool(defaults.WaitlistEnabled),
			models.SettingAddDropEnabled:               strconv.FormatBool(defaults.AddDropEnabled),
		},
	}
}

// Snapshot reads the current settings. Each operation takes its own snapshot,
// so an admin change applies from the next operation on.
func (s *SettingsService) Snapshot(ctx context.Context) (models.RegistrationSettings, error) {
	values, err := s.values(ctx)
	if err != nil {
		return models.RegistrationSettings{}, err
	}
	return values.Settings(), nil
}

// List returns every registration setting with its effective value.
func (s *SettingsService) List(ctx context.Context) ([]dto.SettingItem, error) {
	values, err := s.values(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]dto.SettingItem, 0, len(registrationSettingKeys))
	for _, key := range registrationSettingKeys {
		meta := allowedSettings[key]
		items = append(items, dto.SettingItem{
			Key:         key,
			Value:       values[key],
			Type:        string(meta.Type),
			Description: meta.Description,
		})
	}
	return items, nil
}

// Get retrieves a single setting.
func (s *SettingsService) Get(ctx context.Context, key string) (*dto.SettingItem, error) {
	meta, err := s.requireAllowedKey(key)
	if err != nil {
		return nil, err
	}
	value := s.defaults[key]
	cfg, err := s.repo.Get(ctx, key)
	switch {
	case err == nil:
		value = cfg.Value
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get setting")
	}
	return &dto.SettingItem{Key: key, Value: value, Type: string(meta.Type), Description: meta.Description}, nil
}

// Update validates and stores one setting with an audit entry.
func (s *SettingsService) Update(ctx context.Context, key, value string, actor *models.JWTClaims) (*dto.SettingItem, error) {
	meta, err := s.requireAllowedKey(key)
	if err != nil {
		return nil, err
	}
	value, err = validateSettingValue(meta, value)
	if err != nil {
		return nil, err
	}

	prev, err := s.repo.Get(ctx, key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch setting")
	}
	oldValue := s.defaults[key]
	if prev != nil {
		oldValue = prev.Value
	}

	cfg := &models.Configuration{
		Key:         key,
		Value:       value,
		Type:        meta.Type,
		Description: strPtr(meta.Description),
		UpdatedBy:   userIDPtr(actor),
	}
	if err := s.repo.UpsertAudited(ctx, cfg, settingAudit(actor, key, oldValue, value)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update setting")
	}
	s.logger.Info("registration setting updated", zap.String("key", key), zap.String("old", oldValue), zap.String("new", value))

	return &dto.SettingItem{Key: key, Value: value, Type: string(meta.Type), Description: meta.Description}, nil
}

// BulkUpdate validates every item before writing any of them.
func (s *SettingsService) BulkUpdate(ctx context.Context, req dto.BulkUpdateSettingsRequest, actor *models.JWTClaims) ([]dto.SettingItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	normalized := make([]dto.UpdateSettingRequest, 0, len(req.Items))
	for _, item := range req.Items {
		meta, err := s.requireAllowedKey(item.Key)
		if err != nil {
			return nil, err
		}
		value, err := validateSettingValue(meta, item.Value)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, dto.UpdateSettingRequest{Key: item.Key, Value: value})
	}

	result := make([]dto.SettingItem, 0, len(normalized))
	for _, item := range normalized {
		updated, err := s.Update(ctx, item.Key, item.Value, actor)
		if err != nil {
			return nil, err
		}
		result = append(result, *updated)
	}
	return result, nil
}

func (s *SettingsService) values(ctx context.Context) (models.SettingValues, error) {
	rows, err := s.repo.ListByKeys(ctx, registrationSettingKeys)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration settings")
	}
	values := make(models.SettingValues, len(registrationSettingKeys))
	for key, def := range s.defaults {
		values[key] = def
	}
	for _, row := range rows {
		meta, ok := allowedSettings[row.Key]
		if !ok {
			continue
		}
		if normalized, err := validateSettingValue(meta, row.Value); err == nil {
			values[row.Key] = normalized
		} else {
			s.logger.Warn("ignoring invalid stored setting", zap.String("key", row.Key), zap.String("value", row.Value))
		}
	}
	return values, nil
}

func (s *SettingsService) requireAllowedKey(key string) (allowedSetting, error) {
	meta, ok := allowedSettings[key]
	if !ok {
		return allowedSetting{}, appErrors.Clone(appErrors.ErrValidation, "unsupported setting key")
	}
	return meta, nil
}

func validateSettingValue(meta allowedSetting, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch meta.Type {
	case models.ConfigurationTypeBoolean:
		switch strings.ToLower(value) {
		case "true":
			return "true", nil
		case "false":
			return "false", nil
		}
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s expects boolean value", meta.Key))
	case models.ConfigurationTypeInteger:
		n, err := strconv.Atoi(value)
		if err != nil || n < meta.Min {
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s expects an integer >= %d", meta.Key, meta.Min))
		}
		return strconv.Itoa(n), nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "unsupported setting type")
}

func settingAudit(actor *models.JWTClaims, key, oldValue, newValue string) *models.AuditLog {
	oldBytes, _ := json.Marshal(map[string]string{"key": key, "value": oldValue})
	newBytes, _ := json.Marshal(map[string]string{"key": key, "value": newValue})
	return &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionSettingUpdate,
		Resource:   "registration_setting",
		ResourceID: &key,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "settings-service",
	}
}

func strPtr(s string) *string { return &s }

func userIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}
