// Пакет filestore — хранение бинарных файлов образов на диске.
// Файлы образов неизменяемы после записи: запись идёт через temp файл
// с fsync и атомарным rename, SHA-256 считается на лету.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore — управление файлами образов на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (SR_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения файла образа.
type SaveResult struct {
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт новый FileStore. Проверяет и создаёт директорию,
// если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// NewKey генерирует ключ хранения для образа контейнера.
// Формат: {collection}/{name}_{tag}_{uuid}.sif
// Суффикс uuid делает каждый push уникальным ключом: перезапись тега
// пишет новый файл, старый живёт, пока на него ссылаются контейнеры.
func NewKey(collection, name, tag string) string {
	uid := uuid.New().String()[:8]
	return fmt.Sprintf("%s/%s_%s_%s.sif",
		sanitize(collection), sanitize(name), sanitize(tag), uid)
}

// Save записывает данные из reader по ключу key с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Save(key string, reader io.Reader) (*SaveResult, error) {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории коллекции: %w", err)
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает файл образа для чтения и возвращает *os.File.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(key string) (*os.File, error) {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", key)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}

	return f, nil
}

// Delete удаляет файл образа с диска.
// Возвращает nil, если файл уже не существует.
func (fs *FileStore) Delete(key string) error {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", key, err)
	}
	return nil
}

// Exists проверяет существование файла образа на диске.
func (fs *FileStore) Exists(key string) bool {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// Size возвращает размер файла образа на диске.
func (fs *FileStore) Size(key string) (int64, error) {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}
	return info.Size(), nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// resolve превращает ключ в абсолютный путь, запрещая выход за dataDir.
func (fs *FileStore) resolve(key string) (string, error) {
	if key == "" || filepath.IsAbs(key) || strings.Contains(key, "..") {
		return "", fmt.Errorf("недопустимый ключ хранения: %s", key)
	}
	return filepath.Join(fs.dataDir, filepath.Clean(key)), nil
}

// sanitize убирает небезопасные символы из компонента ключа.
// Оставляет только буквы, цифры, точку, дефис и подчёркивание.
// Последовательности точек схлопываются, крайние точки отрезаются:
// компонент с ".." не пройдёт проверку resolve.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			result.WriteRune(r)
		}
	}
	out := result.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	out = strings.Trim(out, ".")
	if out == "" {
		return "image"
	}
	return out
}
