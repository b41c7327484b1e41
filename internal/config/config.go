// Пакет config — загрузка и валидация конфигурации реестра
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации реестра.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Хранилище образов ---

	// Каталог для бинарных файлов образов
	DataDir string

	// --- Политика доступа ---

	// Разрешено ли обычным пользователям создавать коллекции.
	// При false новые коллекции создают только staff и superuser.
	UserCollections bool
	// Запрет публичных коллекций: все коллекции принудительно приватные
	PrivateOnly bool
	// Приватность новых коллекций по умолчанию
	DefaultPrivate bool

	// --- Административная учётная запись ---

	// Имя пользователя-администратора, создаваемого при старте.
	// Пустое значение отключает bootstrap.
	AdminUsername string
	// Токен администратора (обязателен, если задан AdminUsername)
	AdminToken string

	// --- Фоновые процессы ---

	// Интервал фоновой очистки истёкших ссылок share
	ShareSweepInterval time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Группа сервиса в topologymetrics
	DephealthGroup string

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SR_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("SR_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("SR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SR_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// SR_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SR_LOG_LEVEL: %w", err)
	}

	// SR_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// SR_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("SR_DB_HOST")
	if err != nil {
		return nil, err
	}

	// SR_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("SR_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SR_DB_PORT: %w", err)
	}

	// SR_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("SR_DB_NAME")
	if err != nil {
		return nil, err
	}

	// SR_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("SR_DB_USER")
	if err != nil {
		return nil, err
	}

	// SR_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("SR_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// SR_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("SR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("SR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище образов ---

	// SR_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("SR_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// --- Политика доступа ---

	// SR_USER_COLLECTIONS — могут ли пользователи создавать коллекции (по умолчанию true)
	cfg.UserCollections, err = getEnvBool("SR_USER_COLLECTIONS", true)
	if err != nil {
		return nil, fmt.Errorf("SR_USER_COLLECTIONS: %w", err)
	}

	// SR_PRIVATE_ONLY — запрет публичных коллекций (по умолчанию false)
	cfg.PrivateOnly, err = getEnvBool("SR_PRIVATE_ONLY", false)
	if err != nil {
		return nil, fmt.Errorf("SR_PRIVATE_ONLY: %w", err)
	}

	// SR_DEFAULT_PRIVATE — приватность новых коллекций (по умолчанию false)
	cfg.DefaultPrivate, err = getEnvBool("SR_DEFAULT_PRIVATE", false)
	if err != nil {
		return nil, fmt.Errorf("SR_DEFAULT_PRIVATE: %w", err)
	}

	// --- Административная учётная запись ---

	// SR_ADMIN_USERNAME — имя администратора (пустое отключает bootstrap)
	cfg.AdminUsername = getEnvDefault("SR_ADMIN_USERNAME", "")

	// SR_ADMIN_TOKEN — токен администратора
	cfg.AdminToken = getEnvDefault("SR_ADMIN_TOKEN", "")
	if cfg.AdminUsername != "" && cfg.AdminToken == "" {
		return nil, fmt.Errorf("SR_ADMIN_TOKEN: обязателен при заданном SR_ADMIN_USERNAME")
	}

	// --- Фоновые процессы ---

	// SR_SHARE_SWEEP_INTERVAL — интервал очистки истёкших ссылок (по умолчанию 1h)
	cfg.ShareSweepInterval, err = getEnvDuration("SR_SHARE_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SR_SHARE_SWEEP_INTERVAL: %w", err)
	}

	// SR_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("SR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// SR_DEPHEALTH_GROUP — группа сервиса (по умолчанию sregistry)
	cfg.DephealthGroup = getEnvDefault("SR_DEPHEALTH_GROUP", "sregistry")

	// --- Graceful shutdown ---

	// SR_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("SR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (формат postgres://, используется topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (используйте true/false)", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
