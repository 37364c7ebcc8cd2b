package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv loads .env style files into the process environment. Missing
// files are skipped; variables already set are kept.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays MTF_* variables onto c. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"MTF_LOG_LEVEL":      &c.App.LogLevel,
		"MTF_LOG_FORMAT":     &c.App.LogFormat,
		"MTF_API_ADDR":       &c.App.APIAddr,
		"MTF_GATEWAY_KIND":   &c.Gateway.Kind,
		"MTF_BRIDGE_URL":     &c.Gateway.URL,
		"MTF_BRIDGE_TOKEN":   &c.Gateway.Token,
		"MTF_STREAM_URL":     &c.Gateway.StreamURL,
		"MTF_JOURNAL_PATH":   &c.Journal.Path,
		"MTF_REDIS_ADDR":     &c.Redis.Addr,
		"MTF_REDIS_PASSWORD": &c.Redis.Password,
	}
	for k, dst := range str {
		if v, ok := lookup(k); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("MTF_AUTO_TRADE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MTF_AUTO_TRADE: %w", err)
		}
		c.App.AutoTrade = b
	}
	if v, ok := lookup("MTF_REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MTF_REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	return nil
}
