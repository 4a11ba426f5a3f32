// Package config loads the bridge's process-wide configuration from the
// environment and from secret files, per spec §4.7, §6.1 and §6.2.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cs3org/wopibridge/internal/wopierr"
)

// Config holds every bridge-wide tunable. Per-adapter settings (e.g.
// CODIMD_URL) are read directly by each adapter's Init from the process
// environment, per spec §4.2 ("init(env, keypath)").
type Config struct {
	AppRoot         string
	Port            int
	SaveInterval    time.Duration
	UnlockInterval  time.Duration
	SkipSSLVerify   bool
	HashSecret      string
	APIKeyPath      string
	CertPath        string
	KeyPath         string
}

const (
	defaultAppRoot        = "/wopib"
	defaultPort           = 8000
	defaultSaveInterval   = 200 * time.Second
	defaultUnlockInterval = 90 * time.Second
	defaultSecretPath     = "/var/run/secrets/wbsecret"
	defaultAPIKeyPath     = "/var/run/secrets/"
	defaultCertPath       = "/var/run/secrets/cert.pem"
)

// Load reads configuration from the environment, bailing out with a
// ConfigError if anything mandatory is missing or unreadable. It
// deliberately reads APP_SAVE_INTERVAL and APP_UNLOCK_INTERVAL into their
// own fields with independent defaults, rather than reproducing the
// original implementation's cross-assignment bug (spec §9 Open Question).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("APP_ROOT", defaultAppRoot)
	v.SetDefault("APP_SAVE_INTERVAL", int(defaultSaveInterval.Seconds()))
	v.SetDefault("APP_UNLOCK_INTERVAL", int(defaultUnlockInterval.Seconds()))
	v.SetDefault("SKIP_SSL_VERIFY", false)
	v.SetDefault("WOPIBRIDGE_SECRET_PATH", defaultSecretPath)
	v.SetDefault("WOPIBRIDGE_APIKEY_PATH", defaultAPIKeyPath)
	v.SetDefault("WOPIBRIDGE_CERT_PATH", defaultCertPath)
	v.SetDefault("WOPIBRIDGE_PORT", defaultPort)

	saveInterval, err := parseSeconds(v.GetString("APP_SAVE_INTERVAL"), defaultSaveInterval)
	if err != nil {
		return nil, &wopierr.ConfigError{What: "APP_SAVE_INTERVAL: " + err.Error()}
	}
	unlockInterval, err := parseSeconds(v.GetString("APP_UNLOCK_INTERVAL"), defaultUnlockInterval)
	if err != nil {
		return nil, &wopierr.ConfigError{What: "APP_UNLOCK_INTERVAL: " + err.Error()}
	}

	secretPath := v.GetString("WOPIBRIDGE_SECRET_PATH")
	hashSecret, err := readSecretFile(secretPath)
	if err != nil {
		return nil, &wopierr.ConfigError{What: "could not read hash secret at " + secretPath + ": " + err.Error()}
	}

	certPath := v.GetString("WOPIBRIDGE_CERT_PATH")

	cfg := &Config{
		AppRoot:        v.GetString("APP_ROOT"),
		Port:           v.GetInt("WOPIBRIDGE_PORT"),
		SaveInterval:   saveInterval,
		UnlockInterval: unlockInterval,
		SkipSSLVerify:  isTruthy(v.GetString("SKIP_SSL_VERIFY")),
		HashSecret:     hashSecret,
		APIKeyPath:     v.GetString("WOPIBRIDGE_APIKEY_PATH"),
		CertPath:       certPath,
		KeyPath:        strings.Replace(certPath, "cert", "key", 1),
	}
	return cfg, nil
}

func parseSeconds(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func isTruthy(s string) bool {
	switch strings.ToUpper(s) {
	case "TRUE", "YES":
		return true
	default:
		return false
	}
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// ReadAPIKey reads a per-adapter API key file from the configured secret
// directory, e.g. ReadAPIKey(cfg.APIKeyPath, "codimd_apikey").
func ReadAPIKey(dir, name string) (string, error) {
	return readSecretFile(filepath.Join(dir, name))
}

// HasCert reports whether a TLS certificate file exists at CertPath
// (spec §6.1).
func (c *Config) HasCert() bool {
	_, err := os.Stat(c.CertPath)
	return err == nil
}
