package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// errVersionMismatch возвращается, когда файл изменился между чтением и записью.
var errVersionMismatch = errors.New("document changed since it was read")

// jsonFile представляет JSON-документ на диске. Запись атомарная (временный файл + rename),
// изменения сериализуются мьютексом внутри процесса и flock между процессами.
type jsonFile struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func newJSONFile(path string) *jsonFile {
	return &jsonFile{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// read декодирует документ в dest и возвращает версию (хеш содержимого).
// Отсутствующий файл не ошибка: found=false, dest не трогается.
func (f *jsonFile) read(dest interface{}) (version string, found bool, err error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return versionOf(data), false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return "", false, fmt.Errorf("failed to decode %s: %w", f.path, err)
	}
	return versionOf(data), true, nil
}

// currentVersion возвращает версию файла на диске, пустую строку если файла нет.
func (f *jsonFile) currentVersion() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return versionOf(data), nil
}

// write сериализует value и заменяет файл, если его версия всё ещё expected.
func (f *jsonFile) write(value interface{}, expected string) error {
	current, err := f.currentVersion()
	if err != nil {
		return err
	}
	if current != expected {
		return errVersionMismatch
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.path, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

// withLock выполняет fn, удерживая мьютекс и файловую блокировку.
func (f *jsonFile) withLock(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(f.path), err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", f.path, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s", f.path)
	}
	defer func() { _ = f.lock.Unlock() }()

	return fn()
}

func versionOf(data []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%x", h.Sum64())
}
