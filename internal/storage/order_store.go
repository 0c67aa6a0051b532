package storage

import (
	"context"
	"errors"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
)

// OrderStore хранит заказы, сгруппированные по покупателю.
// Update применяет fn к актуальной копии и сохраняет её целиком либо не сохраняет ничего.
type OrderStore interface {
	Load(ctx context.Context) (models.OrderBook, error)
	Update(ctx context.Context, fn func(models.OrderBook) error) error
}

// FileOrderStore хранит заказы в одном JSON-файле.
type FileOrderStore struct {
	file *jsonFile
	log  *logger.Logger
}

// NewFileOrderStore создает файловое хранилище заказов.
func NewFileOrderStore(path string, log *logger.Logger) *FileOrderStore {
	return &FileOrderStore{
		file: newJSONFile(path),
		log:  log,
	}
}

// Load читает все заказы. Отсутствующий файл означает пустой список.
func (s *FileOrderStore) Load(ctx context.Context) (models.OrderBook, error) {
	book := models.OrderBook{}
	if _, _, err := s.file.read(&book); err != nil {
		s.log.WithError(err).WithField("path", s.file.path).Error("Failed to load orders")
		return nil, apperror.Storage("failed to load orders", err)
	}
	if book == nil {
		book = models.OrderBook{}
	}
	return book, nil
}

// Update выполняет read-modify-write под блокировкой файла с проверкой версии.
func (s *FileOrderStore) Update(ctx context.Context, fn func(models.OrderBook) error) error {
	return s.file.withLock(ctx, func() error {
		for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
			book := models.OrderBook{}
			version, _, err := s.file.read(&book)
			if err != nil {
				return apperror.Storage("failed to load orders", err)
			}
			if book == nil {
				book = models.OrderBook{}
			}
			if err := fn(book); err != nil {
				return err
			}

			err = s.file.write(book, version)
			if err == nil {
				return nil
			}
			if !errors.Is(err, errVersionMismatch) {
				s.log.WithError(err).WithField("path", s.file.path).Error("Failed to save orders")
				return apperror.Storage("failed to save orders", err)
			}
			s.log.WithField("attempt", attempt).Warn("Orders changed concurrently, retrying update")
		}
		return apperror.Conflict("orders were modified concurrently", errVersionMismatch)
	})
}

// Health проверяет, что файл заказов читается.
func (s *FileOrderStore) Health(ctx context.Context) error {
	_, err := s.file.currentVersion()
	return err
}
