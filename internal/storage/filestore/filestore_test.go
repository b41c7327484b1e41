package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestNew_CreatesDirectory проверяет создание директории данных.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if fs.DataDir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, fs.DataDir())
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь не является директорией")
	}
}

// TestNewKey проверяет формат ключа хранения.
func TestNewKey(t *testing.T) {
	key := NewKey("mycol", "my-app", "latest")

	if !strings.HasPrefix(key, "mycol/my-app_latest_") {
		t.Errorf("ключ должен начинаться с коллекции и имени: %s", key)
	}
	if !strings.HasSuffix(key, ".sif") {
		t.Errorf("ключ должен иметь расширение .sif: %s", key)
	}

	// Каждый вызов — новый уникальный ключ
	if key2 := NewKey("mycol", "my-app", "latest"); key2 == key {
		t.Errorf("повторный NewKey вернул тот же ключ: %s", key)
	}

	// Небезопасные символы вырезаются
	bad := NewKey("../evil", "a/b", "la test")
	if strings.Contains(strings.TrimSuffix(bad, ".sif"), "..") ||
		strings.Count(bad, "/") != 1 {
		t.Errorf("небезопасные символы не вырезаны: %s", bad)
	}
	if !strings.HasPrefix(bad, "evil/") {
		t.Errorf("ожидался префикс evil/: %s", bad)
	}

	// Компонент из одних точек схлопывается в заглушку
	dots := NewKey("..", "app", "latest")
	if !strings.HasPrefix(dots, "image/") {
		t.Errorf("ожидался префикс image/: %s", dots)
	}
}

// TestSave_DottedCollection проверяет, что ключ для коллекции с точками
// в имени проходит resolve и файл сохраняется.
func TestSave_DottedCollection(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	key := NewKey("..registry.local", "app", "latest")
	if _, err := fs.Save(key, bytes.NewReader([]byte("data"))); err != nil {
		t.Fatalf("ошибка сохранения по ключу %s: %v", key, err)
	}
	if !fs.Exists(key) {
		t.Errorf("файл не найден по ключу %s", key)
	}
}

// TestSave проверяет сохранение файла с подсчётом SHA-256.
func TestSave(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	content := []byte("Тестовый образ контейнера для проверки записи.")
	key := NewKey("mycol", "app", "latest")

	result, err := fs.Save(key, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	// Проверяем размер
	if result.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), result.Size)
	}

	// Проверяем checksum
	expectedHash := sha256.Sum256(content)
	expectedChecksum := hex.EncodeToString(expectedHash[:])
	if result.Checksum != expectedChecksum {
		t.Errorf("checksum: ожидалось %s, получено %s", expectedChecksum, result.Checksum)
	}

	if !fs.Exists(key) {
		t.Error("файл не найден на диске")
	}

	// Проверяем содержимое через Open
	f, err := fs.Open(key)
	if err != nil {
		t.Fatalf("ошибка открытия файла: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ошибка чтения файла: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое файла не совпадает с записанным")
	}

	// Temp файл не должен остаться
	entries, _ := os.ReadDir(filepath.Join(fs.DataDir(), "mycol"))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("остался временный файл: %s", e.Name())
		}
	}
}

// TestDelete проверяет удаление файла.
func TestDelete(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	key := NewKey("mycol", "app", "latest")
	if _, err := fs.Save(key, bytes.NewReader([]byte("data"))); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if err := fs.Delete(key); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if fs.Exists(key) {
		t.Error("файл существует после удаления")
	}

	// Повторное удаление — не ошибка
	if err := fs.Delete(key); err != nil {
		t.Errorf("повторное удаление вернуло ошибку: %v", err)
	}
}

// TestSize проверяет получение размера файла.
func TestSize(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	content := []byte("1234567890")
	key := NewKey("mycol", "app", "v1")
	if _, err := fs.Save(key, bytes.NewReader(content)); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	size, err := fs.Size(key)
	if err != nil {
		t.Fatalf("ошибка получения размера: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), size)
	}
}

// TestResolve_RejectsTraversal проверяет защиту от выхода за dataDir.
func TestResolve_RejectsTraversal(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if _, err := fs.Open("../../etc/passwd"); err == nil {
		t.Error("ожидалась ошибка для ключа с переходом вверх")
	}
}
