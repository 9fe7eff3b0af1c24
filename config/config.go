package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendDlib = "dlib"
	BackendDNN  = "dnn"
)

const (
	defaultMaxDimension     = 3000
	defaultJPEGQuality      = 95
	defaultNumIngestWorkers = 1
	defaultStoreTimeout     = 30 * time.Second
	defaultFileTimeout      = 5 * time.Minute
)

// PostgresConfig holds connection settings used when DATABASE_DRIVER=postgres.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type Config struct {
	// metadata store
	DatabaseDriver string
	DatabasePath   string // sqlite file
	Postgres       PostgresConfig

	// directories
	InboxPath     string // unprocessed originals are scanned here
	ProcessedPath string // normalized JPEGs are written here
	LibraryPath   string // originals are moved here after commit

	// raster settings
	MaxDimension int
	JPEGQuality  int

	// face capability
	DetectorBackend      string
	DlibModelsDir        string
	DlibUseCNN           bool
	DlibUseDNNLandmarks  bool // 68-point ONNX landmarks instead of go-face's 5-point shape
	FaceDNNNetConfigPath string
	FaceDNNNetModelPath  string
	LandmarkDNNModelPath string

	// worker settings
	NumIngestWorkers int
	StoreTimeout     time.Duration
	FileTimeout      time.Duration

	// logging
	LogFile string
	Debug   bool

	// http
	Port               string
	CORSAllowedOrigins []string
}

// fileValues holds keys read from CONFIG_FILE. Environment variables win over them.
var fileValues = map[string]string{}

func lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fileValues[key]
}

func getEnvOrDefault(key, defaultValue string) string {
	value := lookup(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := lookup(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := lookup(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %t.", envVar, valStr, defaultVal)
		return defaultVal
	}
	return val
}

func getEnvDurationOrDefault(envVar string, defaultVal time.Duration) time.Duration {
	valStr := lookup(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %s. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

// loadConfigFile reads a flat YAML mapping of configuration keys.
func loadConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		if list, ok := value.([]interface{}); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprint(item))
			}
			values[strings.ToUpper(key)] = strings.Join(parts, ",")
			continue
		}
		values[strings.ToUpper(key)] = fmt.Sprint(value)
	}
	return values, nil
}

func absOrEmpty(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", path, err)
	}
	return abs, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func LoadConfig() (Config, error) {
	fileValues = map[string]string{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		fileValues = values
	}

	pg := PostgresConfig{
		Host:     getEnvOrDefault("POSTGRES_HOST", ""),
		Port:     getEnvOrDefault("POSTGRES_PORT", "5432"),
		User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
		Password: getEnvOrDefault("POSTGRES_PASSWORD", ""),
		DBName:   getEnvOrDefault("POSTGRES_DB", "postgres"),
		SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	defaultDriver := DriverSQLite
	if pg.Host != "" {
		defaultDriver = DriverPostgres
	}
	driver := strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", defaultDriver))
	if driver != DriverSQLite && driver != DriverPostgres {
		return Config{}, fmt.Errorf("unsupported DATABASE_DRIVER '%s' (want %s or %s)", driver, DriverSQLite, DriverPostgres)
	}

	backend := strings.ToLower(getEnvOrDefault("DETECTOR_BACKEND", BackendDlib))
	if backend != BackendDlib && backend != BackendDNN {
		return Config{}, fmt.Errorf("unsupported DETECTOR_BACKEND '%s' (want %s or %s)", backend, BackendDlib, BackendDNN)
	}

	inbox, err := absOrEmpty(getEnvOrDefault("UNPROCESSED_PATH", ""))
	if err != nil {
		return Config{}, err
	}
	processed, err := absOrEmpty(getEnvOrDefault("PROCESSED_PATH", ""))
	if err != nil {
		return Config{}, err
	}
	library, err := absOrEmpty(getEnvOrDefault("LIBRARY_PHOTOS_PATH", ""))
	if err != nil {
		return Config{}, err
	}

	// DLIB_CNN_PATH points at the mmod model file; the recognizer wants its directory
	dlibDir := getEnvOrDefault("DLIB_MODELS_DIR", "")
	if dlibDir == "" {
		if cnnPath := getEnvOrDefault("DLIB_CNN_PATH", ""); cnnPath != "" {
			dlibDir = filepath.Dir(cnnPath)
		} else {
			dlibDir = "./models"
		}
	}
	if p := getEnvOrDefault("LANDMARKS_PATH", ""); p != "" {
		log.Printf("Warning: LANDMARKS_PATH (%s) is ignored. go-face loads its own 5-point predictor; set LANDMARK_DNN_MODEL_PATH for 68-point landmarks.", p)
	}

	cfg := Config{
		DatabaseDriver:       driver,
		DatabasePath:         getEnvOrDefault("DATABASE_PATH", "faces.db"),
		Postgres:             pg,
		InboxPath:            inbox,
		ProcessedPath:        processed,
		LibraryPath:          library,
		MaxDimension:         getEnvIntOrDefault("MAX_DIMENSION", defaultMaxDimension),
		JPEGQuality:          getEnvIntOrDefault("JPEG_QUALITY", defaultJPEGQuality),
		DetectorBackend:      backend,
		DlibModelsDir:        dlibDir,
		DlibUseCNN:           getEnvBoolOrDefault("DLIB_USE_CNN", true),
		DlibUseDNNLandmarks:  getEnvBoolOrDefault("DLIB_DNN_LANDMARKS", true),
		FaceDNNNetConfigPath: getEnvOrDefault("FACE_DNN_CONFIG_PATH", "./models/deploy.prototxt.txt"),
		FaceDNNNetModelPath:  getEnvOrDefault("FACE_DNN_MODEL_PATH", "./models/res10_300x300_ssd_iter_140000_fp16.caffemodel"),
		LandmarkDNNModelPath: getEnvOrDefault("LANDMARK_DNN_MODEL_PATH", "./models/landmarks_68.onnx"),
		NumIngestWorkers:     getEnvIntOrDefault("NUM_INGEST_WORKERS", defaultNumIngestWorkers),
		StoreTimeout:         getEnvDurationOrDefault("STORE_TIMEOUT", defaultStoreTimeout),
		FileTimeout:          getEnvDurationOrDefault("FILE_TIMEOUT", defaultFileTimeout),
		LogFile:              getEnvOrDefault("LOG_FILE", ""),
		Debug:                getEnvBoolOrDefault("DEBUG_MODE", false),
		Port:                 getEnvOrDefault("PORT", "8080"),
		CORSAllowedOrigins:   splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.JPEGQuality > 100 {
		log.Printf("Warning: JPEG_QUALITY %d out of range. Using default %d.", cfg.JPEGQuality, defaultJPEGQuality)
		cfg.JPEGQuality = defaultJPEGQuality
	}

	return cfg, nil
}

// DatabaseDSN returns the connection string for the configured driver.
func (c Config) DatabaseDSN() string {
	if c.DatabaseDriver == DriverPostgres {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Postgres.Host, c.Postgres.Port, c.Postgres.User, c.Postgres.Password, c.Postgres.DBName, c.Postgres.SSLMode)
	}
	return c.DatabasePath
}

// ValidateIngest checks the directory settings an ingestion run depends on.
func (c Config) ValidateIngest() error {
	var errs []error
	if c.InboxPath == "" {
		errs = append(errs, errors.New("inbox directory is not set (UNPROCESSED_PATH or --inbox)"))
	}
	if c.ProcessedPath == "" {
		errs = append(errs, errors.New("processed directory is not set (PROCESSED_PATH or --processed)"))
	}
	if c.LibraryPath == "" {
		errs = append(errs, errors.New("library directory is not set (LIBRARY_PHOTOS_PATH or --library)"))
	}
	if c.InboxPath != "" && filepath.Clean(c.InboxPath) == filepath.Clean(c.LibraryPath) {
		errs = append(errs, errors.New("inbox and library directories must differ"))
	}
	if c.InboxPath != "" && filepath.Clean(c.InboxPath) == filepath.Clean(c.ProcessedPath) {
		errs = append(errs, errors.New("inbox and processed directories must differ"))
	}
	return errors.Join(errs...)
}
