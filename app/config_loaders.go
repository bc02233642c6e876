package chatsync

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

type ConfigLoader interface {
	Load() (*Config, error)
}

// FileConfigLoader loads the configuration with LoadConfig after exporting the
// variables of the .env files to the environment. Missing .env files are skipped
// and variables already set in the environment are not overridden.
type FileConfigLoader struct {
	// Paths are the directories searched for config.yaml. The default is the working directory.
	Paths []string
	// EnvFiles are the .env files to load. The default is .env in the working directory.
	EnvFiles []string
}

func (l *FileConfigLoader) Load() (*Config, error) {
	envFiles := l.EnvFiles
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("godotenv.Load(%s): %w", f, err)
		}
	}
	return LoadConfig(l.Paths...)
}

// DefaultConfigLoader returns the default configuration with a random secret,
// backed by the SQLite file.
type DefaultConfigLoader struct {
	SQLiteFile string
}

func (l *DefaultConfigLoader) Load() (*Config, error) {
	// Generate a random secret
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	if err != nil {
		return nil, errors.New("failed to generate secret")
	}

	config := &Config{
		Mode:           DevMode,
		Port:           8080,
		Hostname:       "0.0.0.0",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
	}
	config.Auth.Secret = secret
	config.Auth.TokenExp = 24 * time.Hour
	config.SQLite.File = l.SQLiteFile
	if config.SQLite.File == "" {
		config.SQLite.File = "./chatsync.db"
	}
	return config, nil
}
