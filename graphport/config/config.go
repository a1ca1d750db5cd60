// Package config loads graphport settings from graphport.yaml, GRAPHPORT_*
// environment variables and command line flags, and builds the runtime
// components they describe.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/arthur-debert/graphport/graphport/blob"
	imports "github.com/arthur-debert/graphport/graphport/import"
	"github.com/arthur-debert/graphport/graphport/storage"
	"github.com/arthur-debert/graphport/graphport/store"
	"github.com/arthur-debert/graphport/internal/validation"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// ConfigName is the settings file base name.
	ConfigName = "graphport"

	// EnvPrefix prefixes environment overrides, e.g. GRAPHPORT_BLOB_TYPE.
	EnvPrefix = "GRAPHPORT"

	// ConfigEnv names a settings file explicitly.
	ConfigEnv = "GRAPHPORT_CONFIG"
)

// Blob backend types.
const (
	BlobNone  = "none"
	BlobGCS   = "gcs"
	BlobLocal = "local"
)

// Settings is the complete configuration of a graphport process.
type Settings struct {
	ScratchDir string         `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	Store      StoreSettings  `mapstructure:"store" yaml:"store"`
	Blob       BlobSettings   `mapstructure:"blob" yaml:"blob"`
	Export     ExportSettings `mapstructure:"export" yaml:"export"`
	Import     ImportSettings `mapstructure:"import" yaml:"import"`
	Server     ServerSettings `mapstructure:"server" yaml:"server"`
	Log        LogSettings    `mapstructure:"log" yaml:"log"`
}

// StoreSettings selects the content store backend.
type StoreSettings struct {
	Driver   string `mapstructure:"driver" yaml:"driver" validate:"oneof=json sqlite memory"`
	Path     string `mapstructure:"path" yaml:"path" validate:"required_unless=Driver memory"`
	FilesDir string `mapstructure:"files_dir" yaml:"files_dir" validate:"required"`
}

// BlobSettings selects where blob-mode exports put file payloads.
type BlobSettings struct {
	Type     string        `mapstructure:"type" yaml:"type" validate:"oneof=none gcs local"`
	CacheDir string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	Attempts int           `mapstructure:"attempts" yaml:"attempts" validate:"min=1,max=10"`
	GCS      GCSSettings   `mapstructure:"gcs" yaml:"gcs"`
	Local    LocalSettings `mapstructure:"local" yaml:"local"`
}

// GCSSettings configures the Google Cloud Storage backend.
type GCSSettings struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Project         string `mapstructure:"project" yaml:"project"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix" validate:"segment"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

// LocalSettings configures the directory backend.
type LocalSettings struct {
	Root   string `mapstructure:"root" yaml:"root"`
	Prefix string `mapstructure:"prefix" yaml:"prefix" validate:"segment"`
}

// ExportSettings are defaults for every export.
type ExportSettings struct {
	ExcludeTypes []string `mapstructure:"exclude_types" yaml:"exclude_types"`
	Obfuscate    []string `mapstructure:"obfuscate" yaml:"obfuscate" validate:"dive,fieldpattern"`
}

// ImportSettings are defaults for every import.
type ImportSettings struct {
	RemoveTimestamps bool `mapstructure:"remove_timestamps" yaml:"remove_timestamps"`
}

// ServerSettings configures the HTTP surface.
type ServerSettings struct {
	Addr          string `mapstructure:"addr" yaml:"addr" validate:"required"`
	MaxUploadSize int64  `mapstructure:"max_upload_size" yaml:"max_upload_size" validate:"min=1"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

func init() {
	validation.RegisterStructValidation(validateBlob, BlobSettings{})
}

// validateBlob requires the settings of the selected backend.
func validateBlob(sl validator.StructLevel) {
	b := sl.Current().Interface().(BlobSettings)
	switch b.Type {
	case BlobGCS:
		if b.GCS.Bucket == "" {
			sl.ReportError(b.GCS.Bucket, "gcs.bucket", "Bucket", "required_if", "type gcs")
		}
	case BlobLocal:
		if b.Local.Root == "" {
			sl.ReportError(b.Local.Root, "local.root", "Root", "required_if", "type local")
		}
	}
}

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()
	v.SetDefault("scratch_dir", os.TempDir())
	v.SetDefault("store.driver", "json")
	v.SetDefault("store.path", filepath.Join(dataDir, "store.json"))
	v.SetDefault("store.files_dir", filepath.Join(dataDir, "files"))
	v.SetDefault("blob.type", BlobNone)
	v.SetDefault("blob.cache_dir", "")
	v.SetDefault("blob.attempts", blob.DefaultAttempts)
	v.SetDefault("blob.gcs.bucket", "")
	v.SetDefault("blob.gcs.project", "")
	v.SetDefault("blob.gcs.prefix", "graphport")
	v.SetDefault("blob.gcs.credentials_file", "")
	v.SetDefault("blob.local.root", "")
	v.SetDefault("blob.local.prefix", "graphport")
	v.SetDefault("export.exclude_types", []string{})
	v.SetDefault("export.obfuscate", []string{})
	v.SetDefault("import.remove_timestamps", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_size", int64(256<<20))
	v.SetDefault("log.level", "info")
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "graphport")
	}
	return filepath.Join(os.TempDir(), "graphport")
}

// NewViper returns a viper instance with the settings search path,
// environment binding and defaults in place.
func NewViper() *viper.Viper {
	v := viper.New()
	if configFile := os.Getenv(ConfigEnv); configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.graphport")
		v.AddConfigPath("/etc/graphport")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// Load reads the settings file, if any, and returns the validated settings.
// A missing file is not an error; an explicit file that cannot be read is.
func Load(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	return validation.Struct(s)
}

// OpenStore opens the configured content store with the default schema.
func (s *Settings) OpenStore(opts ...store.Option) (*store.Store, error) {
	var backend storage.Storage
	switch s.Store.Driver {
	case "memory":
		backend = storage.NewMemoryStorage()
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(s.Store.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		sqlite, err := storage.NewSQLiteStorage(s.Store.Path)
		if err != nil {
			return nil, err
		}
		backend = sqlite
	default:
		if err := os.MkdirAll(filepath.Dir(s.Store.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		backend = storage.NewJSONStorage(s.Store.Path)
	}
	return store.New(store.DefaultSchema(), backend, opts...)
}

// Assets returns the store's public asset directory.
func (s *Settings) Assets() *store.AssetDir {
	return store.NewAssetDir(s.Store.FilesDir)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenBlob builds the configured blob backend. It returns a nil backend when
// blob storage is disabled. The closer releases backend connections.
func (s *Settings) OpenBlob(ctx context.Context, opts ...blob.Option) (blob.Backend, io.Closer, error) {
	opts = append([]blob.Option{blob.WithAttempts(s.Blob.Attempts)}, opts...)
	if s.Blob.CacheDir != "" {
		opts = append(opts, blob.WithCacheDir(s.Blob.CacheDir))
	}

	switch s.Blob.Type {
	case BlobGCS:
		client, objects, err := blob.NewGCS(ctx, blob.GCSConfig{
			Bucket:          s.Blob.GCS.Bucket,
			Project:         s.Blob.GCS.Project,
			Prefix:          s.Blob.GCS.Prefix,
			CredentialsFile: s.Blob.GCS.CredentialsFile,
		}, opts...)
		if err != nil {
			return nil, nil, err
		}
		return client, objects, nil
	case BlobLocal:
		client, err := blob.NewLocal(s.Blob.Local.Root, s.Blob.Local.Prefix, opts...)
		if err != nil {
			return nil, nil, err
		}
		return client, nopCloser{}, nil
	default:
		return nil, nopCloser{}, nil
	}
}

// ImportOptions returns the import defaults.
func (s *Settings) ImportOptions() imports.ImportOptions {
	options := imports.DefaultImportOptions()
	options.RemoveTimestamps = s.Import.RemoveTimestamps
	return options
}
