package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
)

func strPtr(s string) *string { return &s }

func TestConfigurationRepositoryListByKeys(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := NewConfigurationRepository(db)
	rows := sqlmock.NewRows([]string{"key", "value", "type", "description", "updated_by", "updated_at"}).
		AddRow(models.SettingMaxCreditsPerTerm, "21", "INTEGER", "desc", "admin", time.Now())
	mock.ExpectQuery("SELECT key, value").
		WithArgs(models.SettingMaxCreditsPerTerm, models.SettingWaitlistEnabled).
		WillReturnRows(rows)

	result, err := repo.ListByKeys(context.Background(), []string{models.SettingMaxCreditsPerTerm, models.SettingWaitlistEnabled})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "21", result[0].Value)
}

func TestConfigurationRepositoryUpsertAudited(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewConfigurationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO configurations").
		WithArgs(models.SettingAddDropEnabled, "false", "BOOLEAN", sqlmock.AnyArg(), "admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	cfg := &models.Configuration{
		Key:       models.SettingAddDropEnabled,
		Value:     "false",
		Type:      models.ConfigurationTypeBoolean,
		UpdatedBy: strPtr("admin"),
	}
	audit := &models.AuditLog{Action: models.AuditActionSettingUpdate, Resource: "configuration"}
	require.NoError(t, repo.UpsertAudited(context.Background(), cfg, audit))
	assert.NotEmpty(t, audit.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigurationRepositoryUpsertAuditedRollsBack(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewConfigurationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO configurations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	cfg := &models.Configuration{Key: models.SettingMaxCreditsPerTerm, Value: "20", Type: models.ConfigurationTypeInteger}
	err := repo.UpsertAudited(context.Background(), cfg, &models.AuditLog{Action: models.AuditActionSettingUpdate})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
