package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dgellow/biolink/internal/emailutil"
	"github.com/dgellow/biolink/internal/log"
)

// secretFields lists the config values that must be env references, by section
var secretFields = map[string][]string{
	"auth":    {"firebaseApiKey", "csrfKey"},
	"storage": {"mongoUri"},
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, "v0.0.1-DEV_EDITION") {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	for section, fields := range secretFields {
		sub, ok := rawConfig[section].(map[string]any)
		if !ok {
			continue
		}
		for _, name := range fields {
			value, exists := sub[name]
			if !exists {
				continue
			}
			if _, isString := value.(string); isString {
				return fmt.Errorf("%s.%s must use environment variable reference for security", section, name)
			}
			refMap, isMap := value.(map[string]any)
			if !isMap {
				return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", section, name)
			}
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", section, name)
			}
		}
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Storage.Kind == "" {
		config.Storage.Kind = StorageKindMemory
	}
	for i, email := range config.Auth.OwnerEmails {
		config.Auth.OwnerEmails[i] = emailutil.Normalize(email)
	}
}

// ValidateConfig validates a resolved config
func ValidateConfig(config *Config) error {
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if config.Server.BaseURL != "" {
		u, err := url.Parse(config.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.baseURL must be an absolute URL, got %q", config.Server.BaseURL)
		}
	}

	if err := validateAuthConfig(&config.Auth); err != nil {
		return err
	}
	return validateStorageConfig(&config.Storage)
}

func validateAuthConfig(auth *AuthConfig) error {
	if len(auth.CSRFKey) < 32 {
		return fmt.Errorf("auth.csrfKey must be at least 32 bytes long for security")
	}

	if len(auth.OwnerEmails) > 0 && (auth.Kind == AuthKindPresence || auth.Kind == AuthKindStatic) {
		return fmt.Errorf("auth.ownerEmails requires an identity provider that reports emails (firebase or okta)")
	}

	switch auth.Kind {
	case AuthKindPresence:
		log.LogWarnWithFields("config", "auth.kind presence accepts any non-empty token", nil)
		if auth.VerifyGuardCookie {
			log.LogWarnWithFields("config", "auth.verifyGuardCookie has no effect with presence verification", nil)
		}
	case AuthKindFirebase:
		if auth.FirebaseProjectID == "" {
			return fmt.Errorf("auth.firebaseProjectId is required for firebase auth")
		}
	case AuthKindOkta:
		if auth.OktaIssuer == "" {
			return fmt.Errorf("auth.oktaIssuer is required for okta auth")
		}
		if auth.OktaClientID == "" && auth.OktaAudience == "" {
			return fmt.Errorf("auth.oktaClientId or auth.oktaAudience is required for okta auth")
		}
	case AuthKindStatic:
		if len(auth.TokenHashes) == 0 {
			return fmt.Errorf("auth.tokenHashes must contain at least one bcrypt hash for static auth")
		}
		for i, h := range auth.TokenHashes {
			if !strings.HasPrefix(h, "$2") {
				return fmt.Errorf("auth.tokenHashes[%d] is not a bcrypt hash", i)
			}
		}
	case "":
		return fmt.Errorf("auth.kind is required")
	default:
		return fmt.Errorf("unsupported auth.kind: %s", auth.Kind)
	}
	return nil
}

func validateStorageConfig(storage *StorageConfig) error {
	switch storage.Kind {
	case StorageKindMemory:
	case StorageKindFirestore:
		if storage.GCPProject == "" {
			return fmt.Errorf("storage.gcpProject is required for firestore storage")
		}
	case StorageKindMongoDB:
		if storage.MongoURI == "" {
			return fmt.Errorf("storage.mongoUri is required for mongodb storage")
		}
		if storage.MongoDatabase == "" {
			return fmt.Errorf("storage.mongoDatabase is required for mongodb storage")
		}
	default:
		return fmt.Errorf("unsupported storage.kind: %s", storage.Kind)
	}
	return nil
}
