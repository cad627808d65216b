package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// AuthKind selects how bearer credentials are verified
type AuthKind string

const (
	// AuthKindPresence accepts any non-empty token. Development only.
	AuthKindPresence AuthKind = "presence"
	AuthKindFirebase AuthKind = "firebase"
	AuthKindOkta     AuthKind = "okta"
	// AuthKindStatic accepts long-lived automation tokens matched against bcrypt hashes
	AuthKindStatic AuthKind = "static"
)

// StorageKind selects the document store backend
type StorageKind string

const (
	StorageKindMemory    StorageKind = "memory"
	StorageKindFirestore StorageKind = "firestore"
	StorageKindMongoDB   StorageKind = "mongodb"
)

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	BaseURL        string   `json:"baseURL"`
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// AuthConfig configures the identity provider and the admin session
type AuthConfig struct {
	Kind AuthKind `json:"kind"`

	FirebaseProjectID string `json:"firebaseProjectId,omitempty"`
	FirebaseAPIKey    Secret `json:"firebaseApiKey,omitempty"`

	OktaIssuer   string `json:"oktaIssuer,omitempty"`
	OktaClientID string `json:"oktaClientId,omitempty"`
	OktaAudience string `json:"oktaAudience,omitempty"`

	// TokenHashes are bcrypt hashes of accepted automation tokens
	TokenHashes []string `json:"tokenHashes,omitempty"`

	CSRFKey Secret `json:"csrfKey"`

	// VerifyGuardCookie makes the /admin guard verify the cookie value
	// instead of only checking that it is present.
	VerifyGuardCookie bool `json:"verifyGuardCookie"`

	// OwnerEmails restricts privileged operations to these principals.
	// Empty means any verified principal.
	OwnerEmails []string `json:"ownerEmails,omitempty"`
}

// StorageConfig configures the document store
type StorageConfig struct {
	Kind StorageKind `json:"kind"`

	GCPProject        string `json:"gcpProject,omitempty"`
	FirestoreDatabase string `json:"firestoreDatabase,omitempty"`
	CollectionPrefix  string `json:"collectionPrefix,omitempty"`

	MongoURI      Secret `json:"mongoUri,omitempty"`
	MongoDatabase string `json:"mongoDatabase,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version string        `json:"version"`
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
}

// RawConfigValue represents a value that could be a string or an env ref.
// This is only used during parsing, not in the final config
type RawConfigValue struct {
	value string
	isRef bool
}

// ParseConfigValue parses a JSON value that could be a string or reference object
func ParseConfigValue(raw json.RawMessage) (*RawConfigValue, error) {
	// Try plain string first
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return &RawConfigValue{value: str}, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return nil, fmt.Errorf("unknown reference type in config value")
	}

	value := os.Getenv(envVar)
	if value == "" {
		return nil, fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return &RawConfigValue{value: value, isRef: true}, nil
}

// parseOptional resolves raw into dst when the field is present
func parseOptional(raw json.RawMessage, field string, dst *string) error {
	if raw == nil {
		return nil
	}
	parsed, err := ParseConfigValue(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = parsed.value
	return nil
}
