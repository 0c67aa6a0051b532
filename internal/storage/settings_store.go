package storage

import (
	"context"
	"errors"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
)

const maxUpdateAttempts = 3

// SettingsStore хранит документ настроек (промокоды и прочие ключи админ-панели).
type SettingsStore struct {
	file *jsonFile
	log  *logger.Logger
}

// NewSettingsStore создает хранилище настроек поверх JSON-файла.
func NewSettingsStore(path string, log *logger.Logger) *SettingsStore {
	return &SettingsStore{
		file: newJSONFile(path),
		log:  log,
	}
}

// Load читает документ. Отсутствующий файл означает пустые настройки.
func (s *SettingsStore) Load(ctx context.Context) (*models.Settings, error) {
	settings := &models.Settings{}
	if _, _, err := s.file.read(settings); err != nil {
		s.log.WithError(err).WithField("path", s.file.path).Error("Failed to load settings")
		return nil, apperror.Storage("failed to load settings", err)
	}
	return settings, nil
}

// Update читает документ, применяет fn и записывает результат целиком.
// Ошибка из fn прерывает обновление и возвращается как есть.
func (s *SettingsStore) Update(ctx context.Context, fn func(*models.Settings) error) error {
	return s.file.withLock(ctx, func() error {
		for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
			settings := &models.Settings{}
			version, _, err := s.file.read(settings)
			if err != nil {
				return apperror.Storage("failed to load settings", err)
			}
			if err := fn(settings); err != nil {
				return err
			}

			err = s.file.write(settings, version)
			if err == nil {
				return nil
			}
			if !errors.Is(err, errVersionMismatch) {
				s.log.WithError(err).WithField("path", s.file.path).Error("Failed to save settings")
				return apperror.Storage("failed to save settings", err)
			}
			s.log.WithField("attempt", attempt).Warn("Settings changed concurrently, retrying update")
		}
		return apperror.Conflict("settings were modified concurrently", errVersionMismatch)
	})
}
