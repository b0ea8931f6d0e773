package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"p9e.in/wsm/pkg/workflow"
)

// Config is everything the service reads from the environment.
type Config struct {
	Port       string
	DSN        string
	JWTSecret  string
	TokenTTL   time.Duration
	LogLevel   slog.Level
	GormLogSQL bool

	AdminUsername string
	AdminPassword string
	AdminEmail    string

	SchemaDir   string
	SchemaWatch bool
	TemplateDir string

	Numbering        string
	WorkflowPolicy   workflow.Policy
	StatusChangeGate workflow.Gate

	RenderStageTimeout time.Duration
	ChromeBin          string
	ChromeURL          string
	PDFPrimary         bool
	PDFCompress        bool
	ReportCacheSize    int

	ArtifactBackend string
	ArtifactDir     string
	GCSBucket       string
	GCSPrefix       string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment variables")
	}

	c := &Config{
		Port:          getEnv("PORT", "8080"),
		DSN:           os.Getenv("DB_DSN"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@company.com"),
		SchemaDir:     os.Getenv("SCHEMA_DIR"),
		TemplateDir:   os.Getenv("TEMPLATE_DIR"),
		Numbering:     getEnv("NUMBERING", "counter"),
		ChromeBin:     os.Getenv("CHROME_BIN"),
		ChromeURL:     os.Getenv("CHROME_URL"),
		ArtifactDir:   getEnv("ARTIFACT_DIR", "./artifacts"),
		GCSBucket:     os.Getenv("GCS_BUCKET"),
		GCSPrefix:     getEnv("GCS_PREFIX", "wsm"),
	}

	var err error
	if c.TokenTTL, err = getDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if c.RenderStageTimeout, err = getDuration("RENDER_STAGE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if c.SchemaWatch, err = getBool("SCHEMA_WATCH", false); err != nil {
		return nil, err
	}
	if c.PDFPrimary, err = getBool("PDF_PRIMARY", true); err != nil {
		return nil, err
	}
	if c.PDFCompress, err = getBool("PDF_COMPRESS", true); err != nil {
		return nil, err
	}
	if c.GormLogSQL, err = getBool("DB_LOG_SQL", false); err != nil {
		return nil, err
	}
	if c.ReportCacheSize, err = getInt("REPORT_CACHE_SIZE", 64); err != nil {
		return nil, err
	}
	if c.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if c.WorkflowPolicy, err = workflow.ParsePolicy(getEnv("WORKFLOW_POLICY", "permissive")); err != nil {
		return nil, err
	}
	if c.StatusChangeGate, err = workflow.ParseGate(getEnv("STATUS_CHANGE_ROLE", "admin")); err != nil {
		return nil, err
	}

	switch c.Numbering {
	case "counter", "random":
	default:
		return nil, fmt.Errorf("NUMBERING must be counter or random, got %q", c.Numbering)
	}

	c.ArtifactBackend = getEnv("ARTIFACT_BACKEND", "local")
	if os.Getenv("USE_GCS") == "true" {
		c.ArtifactBackend = "gcs"
	}
	switch c.ArtifactBackend {
	case "local", "none":
	case "gcs":
		if c.GCSBucket == "" {
			return nil, fmt.Errorf("GCS_BUCKET is required when artifacts are stored in GCS")
		}
	default:
		return nil, fmt.Errorf("ARTIFACT_BACKEND must be local, gcs or none, got %q", c.ArtifactBackend)
	}
	return c, nil
}

// Connect opens the PostgreSQL database named by DB_DSN.
func Connect(c *Config) (*gorm.DB, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("DB_DSN is not set")
	}
	return Open(postgres.Open(c.DSN), c.GormLogSQL)
}

// Open wraps gorm.Open with the settings every dialector shares.
func Open(dialector gorm.Dialector, logSQL bool) (*gorm.DB, error) {
	level := logger.Warn
	if logSQL {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}
