package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RWKV-APP/app-website/geo"
	"github.com/RWKV-APP/app-website/releasenotes"
	"github.com/RWKV-APP/app-website/site"
)

// loadEnvFile loads path, or ./.env when path is empty. A missing default
// file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads the service configuration from the environment. Missing
// credentials only disable the features that need them.
func LoadConfig() (*site.Config, error) {
	cfg := &site.Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":3462"),
		CatalogFile: os.Getenv("CATALOG_FILE"),
		Providers: site.Providers{
			HuggingFaceEndpoint: getEnv("HF_ENDPOINT", site.DefaultHuggingFaceEndpoint),
			HuggingFaceRepo:     os.Getenv("HF_DATASETS_ID"),
			HuggingFaceToken:    os.Getenv("HF_TOKEN"),
			GitHubAPI:           getEnv("GITHUB_API", site.DefaultGitHubAPI),
			GitHubRepo:          getEnv("GITHUB_REPO", "RWKV-APP/RWKV_APP"),
			GitHubToken:         os.Getenv("GITHUB_TOKEN"),
			PgyerBase:           site.DefaultPgyerBase,
			PgyerAPIKey:         os.Getenv("PGYER_API_KEY"),
			PgyerAppKey:         getEnv("PGYER_APP_KEY", "rwkvchat"),
			ITunesBase:          site.DefaultITunesBase,
		},
		ReleaseNotesDir:           getEnv("RELEASE_NOTES_DIR", "./data/release-notes"),
		ReleaseNotesDefaultLocale: getEnv("RELEASE_NOTES_DEFAULT_LOCALE", "zh-CN"),
		GeoEndpoint:               getEnv("GEO_ENDPOINT", "http://ip-api.com"),
		RedisURL:                  os.Getenv("REDIS_URL"),
		S3: site.S3Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			Bucket:    os.Getenv("S3_BUCKET"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Prefix:    getEnv("S3_PREFIX", "distributions/"),
		},
		GPGPrivateKey: os.Getenv("GPG_PRIVATE_KEY"),
		GPGPassphrase: os.Getenv("GPG_PASSPHRASE"),
	}

	cfg.DatabasePath = databasePath(getEnv("DATABASE_URL", "file:./dev.db"))

	interval := getEnv("REFRESH_INTERVAL", "30m")
	d, err := time.ParseDuration(interval)
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL %q: %w", interval, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL %q: must be positive", interval)
	}
	cfg.RefreshInterval = d

	if raw := os.Getenv("RELEASE_NOTES_LINES"); raw != "" {
		lines, err := releasenotes.ParseLines(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid RELEASE_NOTES_LINES: %w", err)
		}
		cfg.ReleaseNotesLines = lines
	}

	if cfg.TrustedProxies, err = geo.ParseTrustedProxies(getEnv("TRUSTED_PROXIES", geo.DefaultTrustedProxies)); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	watch := getEnv("RELEASE_NOTES_WATCH", "true")
	if cfg.WatchReleaseNotes, err = strconv.ParseBool(watch); err != nil {
		return nil, fmt.Errorf("invalid RELEASE_NOTES_WATCH %q: %w", watch, err)
	}

	return cfg, nil
}

// databasePath accepts both plain paths and file: URLs.
func databasePath(url string) string {
	return strings.TrimPrefix(url, "file:")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
