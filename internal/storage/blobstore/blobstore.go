// Пакет blobstore — хранение оригиналов и превью медиа на локальном диске.
// Файлы адресуются локаторами вида "{folder}/{storage name}",
// локаторы никогда не покидают серверную часть.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Каталоги хранения.
const (
	// FolderOriginals — оригиналы (выдаются только при наличии доступа)
	FolderOriginals = "originals"
	// FolderPreviews — превью (выдаются всем аутентифицированным)
	FolderPreviews = "previews"
)

// Ошибки blob store.
var (
	// ErrNotExist — файл по локатору отсутствует.
	ErrNotExist = errors.New("файл не найден в хранилище")
	// ErrInvalidLocator — локатор выходит за пределы хранилища.
	ErrInvalidLocator = errors.New("недопустимый локатор")
)

// Store — файловое хранилище медиа.
type Store struct {
	// rootDir — корневая директория хранения (PW_STORAGE_DIR)
	rootDir string
}

// SaveResult — результат сохранения файла.
type SaveResult struct {
	// Locator — относительный путь файла в хранилище
	Locator string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт Store. Создаёт корневую директорию и подкаталоги,
// если они не существуют.
func New(rootDir string) (*Store, error) {
	for _, dir := range []string{rootDir, filepath.Join(rootDir, FolderOriginals), filepath.Join(rootDir, FolderPreviews)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}
	return &Store{rootDir: rootDir}, nil
}

// Save записывает данные из reader в каталог folder с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (s *Store) Save(reader io.Reader, folder, originalFilename string) (*SaveResult, error) {
	locator := joinLocator(folder, generateStorageName(originalFilename))
	fullPath := filepath.Join(s.rootDir, filepath.FromSlash(locator))
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Locator:  locator,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Copy копирует существующий файл в каталог folder.
// Используется для превью видео и превью без водяного знака.
func (s *Store) Copy(srcLocator, folder, originalFilename string) (*SaveResult, error) {
	src, err := s.Open(srcLocator)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return s.Save(src, folder, originalFilename)
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
// Отсутствующий файл — ErrNotExist.
func (s *Store) Open(locator string) (*os.File, error) {
	fullPath, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, locator)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", locator, err)
	}

	return f, nil
}

// Delete удаляет файл. Возвращает nil, если файл уже не существует.
func (s *Store) Delete(locator string) error {
	fullPath, err := s.resolve(locator)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", locator, err)
	}
	return nil
}

// RootDir возвращает путь к корневой директории.
func (s *Store) RootDir() string {
	return s.rootDir
}

// CheckReady проверяет доступность корневой директории для health endpoint.
func (s *Store) CheckReady() (status string, message string) {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return "fail", fmt.Sprintf("хранилище недоступно: %v", err)
	}
	if !info.IsDir() {
		return "fail", fmt.Sprintf("%s не является директорией", s.rootDir)
	}
	return "ok", "хранилище доступно"
}

// resolve преобразует локатор в абсолютный путь внутри rootDir.
func (s *Store) resolve(locator string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(locator))
	if locator == "" || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return filepath.Join(s.rootDir, clean), nil
}

// joinLocator собирает локатор из каталога и имени.
func joinLocator(folder, name string) string {
	return folder + "/" + name
}

// generateStorageName генерирует имя файла для хранения на диске.
// Формат: {name}_{timestamp}_{uuid}.{ext}
// Пример: sunset_20260221150405_a1b2c3d4.jpg
func generateStorageName(originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	name := sanitize(strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename)))

	if len(name) > 50 {
		name = name[:50]
	}

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%s_%s%s", name, ts, uid, sanitizeExt(ext))
}

// sanitize оставляет в строке только латиницу, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "media"
	}
	return result.String()
}

// sanitizeExt оставляет расширение, только если оно состоит из безопасных символов.
func sanitizeExt(ext string) string {
	if ext == "" || ext == "." {
		return ""
	}
	if s := sanitize(ext[1:]); s == ext[1:] {
		return ext
	}
	return ""
}
