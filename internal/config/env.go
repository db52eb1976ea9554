package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// EnvFile is read from the directory holding the config file.
	EnvFile  = ".env"
	EnvToken = "SCHEDBOT_TELEGRAM_TOKEN"
)

// applyEnv overlays secrets from the process environment and the optional .env
// file. Process variables win over the file.
func applyEnv(cfgPath string, cfg *Config) error {
	vars, err := godotenv.Read(filepath.Join(filepath.Dir(cfgPath), EnvFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(vars[key])
	}
	if tok := lookup(EnvToken); tok != "" {
		cfg.Telegram.Token = tok
	}
	return nil
}
