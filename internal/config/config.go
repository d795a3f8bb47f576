package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Extraction  ExtractionConfig  `yaml:"extraction" json:"extraction"`
	Subjects    SubjectsConfig    `yaml:"subjects" json:"subjects"`
	ResumeIndex ResumeIndexConfig `yaml:"resume_index" json:"resume_index"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
}

// ServerConfig controls the optional status/control HTTP listener
type ServerConfig struct {
	Listen       string        `yaml:"listen" json:"listen" env:"DICOMINGEST_LISTEN"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"DICOMINGEST_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"DICOMINGEST_WRITE_TIMEOUT" default:"30s"`
}

// DatabaseConfig describes the metadata store connection
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER" default:"dicomingest"`
	Password        string        `yaml:"password" json:"password" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB" default:"dicomingest"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"DICOMINGEST_DATABASE_PATH" default:"dicomingest.db"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"1h"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`

	// MaxBindParams is the per-statement bind parameter ceiling. Zero selects
	// the dialect default.
	MaxBindParams int `yaml:"max_bind_params" json:"max_bind_params" env:"DB_MAX_BIND_PARAMS"`
	// RowParamOverhead is added to the column count of every row when
	// sizing chunks.
	RowParamOverhead int `yaml:"row_param_overhead" json:"row_param_overhead" env:"DB_ROW_PARAM_OVERHEAD" default:"2"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" default:"text"`
}

// SubjectsConfig controls subject code resolution
type SubjectsConfig struct {
	CSVPath    string `yaml:"csv_path" json:"csv_path" env:"DICOMINGEST_SUBJECT_CSV"`
	IDColumn   string `yaml:"id_column" json:"id_column" env:"DICOMINGEST_SUBJECT_ID_COLUMN" default:"patient_id"`
	CodeColumn string `yaml:"code_column" json:"code_column" env:"DICOMINGEST_SUBJECT_CODE_COLUMN" default:"subject_code"`
	Seed       string `yaml:"seed" json:"-" env:"DICOMINGEST_SUBJECT_SEED"`
}

// ResumeIndexConfig sizes the per-subject resume index
type ResumeIndexConfig struct {
	Threshold int     `yaml:"threshold" json:"threshold" env:"DICOMINGEST_RESUME_THRESHOLD" default:"50000"`
	ErrorRate float64 `yaml:"error_rate" json:"error_rate" env:"DICOMINGEST_RESUME_ERROR_RATE" default:"0.001"`
}

// TelemetryConfig controls periodic pipeline telemetry logging
type TelemetryConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval" env:"DICOMINGEST_TELEMETRY_INTERVAL" default:"30s"`
}

// Dialect bind parameter ceilings
const (
	SQLiteMaxBindParams   = 32766
	PostgresMaxBindParams = 65535
)

// DefaultConfig returns a configuration populated from the default tags
func DefaultConfig() *Config {
	cfg := &Config{}
	// default tags are static and always parse
	_ = applyDefaults(reflect.ValueOf(cfg).Elem())
	return cfg
}

// Load builds a configuration from defaults, the optional file at path and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	applyDerivedConfig(cfg)

	if result := Validate(cfg); !result.OK() {
		return nil, fmt.Errorf("configuration validation failed: %w", result.Err())
	}

	return cfg, nil
}

// BindParamCeiling returns the configured ceiling or the dialect default
func (d DatabaseConfig) BindParamCeiling() int {
	if d.MaxBindParams > 0 {
		return d.MaxBindParams
	}
	if d.Type == "postgres" {
		return PostgresMaxBindParams
	}
	return SQLiteMaxBindParams
}

// DSN returns the driver connection string for the configured database type
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Type == "postgres" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			d.Host, d.Username, d.Password, d.Database, d.Port)
	}
	return d.DatabasePath
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func applyDefaults(v reflect.Value) error {
	return walkTagged(v, "default", func(field reflect.Value, value string) error {
		return setFieldValue(field, value)
	})
}

func loadStructFromEnv(v reflect.Value) error {
	return walkTagged(v, "env", func(field reflect.Value, name string) error {
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			return nil
		}
		return setFieldValue(field, value)
	})
}

// walkTagged visits every settable leaf field carrying tag, recursing into
// nested structs.
func walkTagged(v reflect.Value, tag string, visit func(reflect.Value, string) error) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := walkTagged(field, tag, visit); err != nil {
				return err
			}
			continue
		}

		tagValue := fieldType.Tag.Get(tag)
		if tagValue == "" {
			continue
		}

		if err := visit(field, tagValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func applyDerivedConfig(cfg *Config) {
	if cfg.Extraction.CohortName == "" {
		cfg.Extraction.CohortName = cfg.Extraction.CohortID
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.DatabasePath != "" && cfg.Database.DatabasePath != ":memory:" {
		if abs, err := filepath.Abs(cfg.Database.DatabasePath); err == nil {
			cfg.Database.DatabasePath = abs
		}
	}
}
