// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (контент-шлюз на MTProto). Он:
//  1. читает переменные окружения из config.env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. кеширует производные структуры (список авторизованных каналов, судо-список),
//  4. предоставляет доступ к результату через singleton.
//
// Бизнес-контекст: бот индексирует медиа в авторизованных каналах, гоняет
// батч-загрузки через пользовательские сессии и ограничивает дневные лимиты
// freemium/premium. Конфиг среды управляет подключением к Telegram API,
// ключами шифрования секретов, лимитами, логированием и тарифами.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// PlanDefaults описывает один тариф подписки: стоимость в Stars, длительность
// и единицу измерения. Значения могут переопределяться через окружение
// (PLAN_<K>_S, PLAN_<K>_DU, PLAN_<K>_U, PLAN_<K>_L).
type PlanDefaults struct {
	Key      string
	Label    string
	Stars    int
	Duration int
	Unit     string
}

// EnvConfig описывает параметры, приходящие из окружения (config.env). Это
// «операционные» настройки запуска: учетные данные MTProto, списки каналов,
// лимиты, ключи шифрования, лог-уровень и т. д.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	APIID         int
	APIHash       string
	BotToken      string
	SessionString string
	AuthChannels  []int64
	OwnerID       int64
	SudoUsers     []int64
	Workers       int
	Port          int
	BaseURL       string
	FreemiumLimit int
	PremiumLimit  int
	MasterKey     string
	IVKey         string
	ForceSub      int64
	LogGroup      int64
	ThrottleRPS   int
	// Самообновление
	UpstreamRepo   string
	UpstreamBranch string
	// Внешний загрузчик
	YTCookies    string
	InstaCookies string
	// Внешний стриминговый движок голосовых чатов (пустая строка — стриминг отключён)
	VCEngineCmd string
	// Тарифы Stars
	Plans []PlanDefaults
	// Пути локального состояния
	DBPath          string
	SessionDir      string
	DownloadDir     string
	ThumbDir        string
	ActiveBatchFile string
	UpdateFlagFile  string
	// Логирование
	LogLevel          string
	LogFile           string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды и предупреждения, накопленные при загрузке.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultThrottleRPS     = 10
	defaultWorkers         = 4
	defaultPort            = 8080
	defaultFreemiumLimit   = 10
	defaultPremiumLimit    = 0
	defaultLogLevel        = "info"
	defaultUpstreamBranch  = "main"
	defaultDBPath          = "data/surf.db"
	defaultSessionDir      = "data/sessions"
	defaultDownloadDir     = "downloads"
	defaultThumbDir        = "data/thumbs"
	defaultActiveBatchFile = "data/active_users.json"
	defaultUpdateFlagFile  = ".update_flag"
	// Файловое логирование (LOG_FILE имеет дефолт: его читает команда /logs)
	defaultLogFile           = "log.txt"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

// defaultPlans — тарифы по умолчанию: ключи d/w/m соответствуют кнопкам /plans.
var defaultPlans = []PlanDefaults{
	{Key: "d", Label: "1 Day", Stars: 35, Duration: 1, Unit: "days"},
	{Key: "w", Label: "1 Week", Stars: 150, Duration: 1, Unit: "weeks"},
	{Key: "m", Label: "1 Month", Stars: 400, Duration: 1, Unit: "month"},
}

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове:
//  1. читает config.env (отсутствие файла не ошибка: окружение может прийти извне),
//  2. формирует EnvConfig,
//  3. фиксирует результат в singleton cfgInstance.
//
// Повторный вызов запрещен (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	var warnings []string

	if err := loadDotenv(envPath); err != nil {
		appendWarningf(&warnings, "env file %s not loaded: %v", envPath, err)
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}

	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env API_HASH must be set")
	}

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set")
	}

	masterKey := strings.TrimSpace(os.Getenv("MASTER_KEY"))
	if masterKey == "" {
		return nil, errors.New("env MASTER_KEY must be set (secret vault password)")
	}
	ivKey := strings.TrimSpace(os.Getenv("IV_KEY"))
	if ivKey == "" {
		return nil, errors.New("env IV_KEY must be set (secret vault salt)")
	}

	// DATABASE_URL/MONGO_DB приняты для совместимости со старыми конфигами,
	// но хранилище встроенное (bbolt) и внешняя база не используется.
	if strings.TrimSpace(os.Getenv("DATABASE_URL")) != "" || strings.TrimSpace(os.Getenv("MONGO_DB")) != "" {
		appendWarningf(&warnings, "env DATABASE_URL/MONGO_DB are ignored: the document store is embedded")
	}

	authChannels := parseIDList("AUTH_CHANNEL", os.Getenv("AUTH_CHANNEL"), &warnings)
	sudoUsers := parseIDList("SUDO_USERS", os.Getenv("SUDO_USERS"), &warnings)
	ownerID := parseInt64Default("OWNER_ID", 0, &warnings)
	forceSub := parseInt64Default("FORCE_SUB", 0, &warnings)
	logGroup := parseInt64Default("LOG_GROUP", 0, &warnings)

	workers := parseIntDefault("WORKERS", defaultWorkers, greaterThanZero, &warnings)
	port := parseIntDefault("PORT", defaultPort, greaterThanZero, &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	freemiumLimit := parseIntDefault("FREEMIUM_LIMIT", defaultFreemiumLimit, nonNegative, &warnings)
	premiumLimit := parseIntDefault("PREMIUM_LIMIT", defaultPremiumLimit, nonNegative, &warnings)

	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_URL")), "/")
	if baseURL == "" {
		appendWarningf(&warnings, "env BASE_URL is not set; stream links will be relative")
	}

	env := EnvConfig{
		APIID:           apiID,
		APIHash:         apiHash,
		BotToken:        botToken,
		SessionString:   strings.TrimSpace(os.Getenv("SESSION_STRING")),
		AuthChannels:    authChannels,
		OwnerID:         ownerID,
		SudoUsers:       sudoUsers,
		Workers:         workers,
		Port:            port,
		BaseURL:         baseURL,
		FreemiumLimit:   freemiumLimit,
		PremiumLimit:    premiumLimit,
		MasterKey:       masterKey,
		IVKey:           ivKey,
		ForceSub:        forceSub,
		LogGroup:        logGroup,
		ThrottleRPS:     throttleRPS,
		UpstreamRepo:    strings.TrimSpace(os.Getenv("UPSTREAM_REPO")),
		UpstreamBranch:  sanitizeFile("UPSTREAM_BRANCH", os.Getenv("UPSTREAM_BRANCH"), defaultUpstreamBranch, &warnings),
		YTCookies:       strings.TrimSpace(os.Getenv("YT_COOKIES")),
		InstaCookies:    strings.TrimSpace(os.Getenv("INSTA_COOKIES")),
		VCEngineCmd:     strings.TrimSpace(os.Getenv("VC_ENGINE_CMD")),
		Plans:           loadPlans(&warnings),
		DBPath:          sanitizeFile("DB_PATH", os.Getenv("DB_PATH"), defaultDBPath, &warnings),
		SessionDir:      sanitizeFile("SESSION_DIR", os.Getenv("SESSION_DIR"), defaultSessionDir, &warnings),
		DownloadDir:     sanitizeFile("DOWNLOAD_DIR", os.Getenv("DOWNLOAD_DIR"), defaultDownloadDir, &warnings),
		ThumbDir:        sanitizeFile("THUMB_DIR", os.Getenv("THUMB_DIR"), defaultThumbDir, &warnings),
		ActiveBatchFile: sanitizeFile("ACTIVE_BATCH_FILE", os.Getenv("ACTIVE_BATCH_FILE"), defaultActiveBatchFile, &warnings),
		UpdateFlagFile:  sanitizeFile("UPDATE_FLAG_FILE", os.Getenv("UPDATE_FLAG_FILE"), defaultUpdateFlagFile, &warnings),
		// Логирование
		LogLevel:          sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings),
		LogFile:           sanitizeFile("LOG_FILE", os.Getenv("LOG_FILE"), defaultLogFile, &warnings),
		LogFileMaxSize:    parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings),
		LogFileMaxBackups: parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings),
		LogFileMaxAge:     parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings),
		LogFileCompress:   parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings),
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// loadDotenv подтягивает переменные из файла окружения. Отсутствующий файл не
// ошибка: деплой может передавать окружение напрямую. Уже установленные
// переменные godotenv не перетирает.
func loadDotenv(envPath string) error {
	if strings.TrimSpace(envPath) == "" {
		return nil
	}
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(envPath)
}

// loadPlans собирает тарифы: дефолты d/w/m, поверх которых применяются
// переменные PLAN_<KEY>_{S,DU,U,L}. Некорректные значения отбрасываются с
// предупреждением, тариф остаётся дефолтным.
func loadPlans(warnings *[]string) []PlanDefaults {
	plans := make([]PlanDefaults, len(defaultPlans))
	copy(plans, defaultPlans)
	for i := range plans {
		prefix := "PLAN_" + strings.ToUpper(plans[i].Key) + "_"
		plans[i].Stars = parseIntDefaultQuiet(prefix+"S", plans[i].Stars, greaterThanZero, warnings)
		plans[i].Duration = parseIntDefaultQuiet(prefix+"DU", plans[i].Duration, greaterThanZero, warnings)
		if u := strings.TrimSpace(os.Getenv(prefix + "U")); u != "" {
			plans[i].Unit = strings.ToLower(u)
		}
		if l := strings.TrimSpace(os.Getenv(prefix + "L")); l != "" {
			plans[i].Label = l
		}
	}
	return plans
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// IsOwner проверяет, принадлежит ли id владельцу бота.
func (e EnvConfig) IsOwner(id int64) bool {
	return e.OwnerID != 0 && id == e.OwnerID
}

// IsSudo проверяет, входит ли id в привилегированный список (владелец включён).
func (e EnvConfig) IsSudo(id int64) bool {
	if e.IsOwner(id) {
		return true
	}
	for _, u := range e.SudoUsers {
		if u == id {
			return true
		}
	}
	return false
}

// IsAuthChannel проверяет, разрешён ли канал для индексации по конфигу окружения.
// Список может быть дополнен через конфиг-коллекцию хранилища (см. adapters/ingest).
func (e EnvConfig) IsAuthChannel(id int64) bool {
	for _, c := range e.AuthChannels {
		if c == id {
			return true
		}
	}
	return false
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseIntDefaultQuiet — как parseIntDefault, но молчит про отсутствующую
// переменную: тарифы чаще всего не переопределяют, шуметь не о чем.
func parseIntDefaultQuiet(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseInt64Default читает name как int64 (идентификаторы Telegram не влезают в int32).
// Пустое значение не считается ошибкой: 0 означает «не задано».
func parseInt64Default(name string, defaultVal int64, warnings *[]string) int64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseIDList разбирает список числовых идентификаторов, разделённых запятыми
// или пробелами. Некорректные элементы отбрасываются с предупреждением.
func parseIDList(name, value string, warnings *[]string) []int64 {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' })
	result := make([]int64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			appendWarningf(warnings, "env %s entry %q is not a valid id; skipped", name, f)
			continue
		}
		result = append(result, v)
	}
	return result
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeFile возвращает валидное имя файла конфигурации. Если переменная не
// задана, подставляет fallback без предупреждения: у путей осмысленные дефолты.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	_ = name
	_ = warnings
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	return v
}
