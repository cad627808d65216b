package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": \"v0.0.1-DEV_EDITION\"")
	} else if !strings.HasPrefix(version, "v0.0.1-DEV_EDITION") {
		result.addError("version", "unsupported version '%s' - use 'v0.0.1-DEV_EDITION' or 'v0.0.1-DEV_EDITION-<variant>'", version)
	}

	if server, ok := rawConfig["server"].(map[string]any); ok {
		validateServerStructure(server, result)
	} else if _, exists := rawConfig["server"]; exists {
		result.addError("server", "server must be an object")
	}

	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		result.addError("auth", "auth section is required. Hint: Add \"auth\": {\"kind\": \"firebase\", ...}")
	} else {
		validateAuthStructure(auth, result)
	}

	if storage, ok := rawConfig["storage"].(map[string]any); ok {
		validateStorageStructure(storage, result)
	} else {
		result.addWarning("storage", "no storage section - content is kept in memory and lost on restart")
	}

	return result, nil
}

func validateServerStructure(server map[string]any, result *ValidationResult) {
	if _, ok := server["addr"]; !ok {
		result.addWarning("server.addr", "addr not set, defaulting to :8080")
	}
	if origins, ok := server["allowedOrigins"]; ok {
		if _, isList := origins.([]any); !isList {
			result.addError("server.allowedOrigins", "allowedOrigins must be an array of strings")
		}
	}
}

func validateAuthStructure(auth map[string]any, result *ValidationResult) {
	kind, _ := auth["kind"].(string)
	switch AuthKind(kind) {
	case AuthKindPresence:
		result.addWarning("auth.kind", "presence accepts any non-empty bearer token. Use it for local development only")
	case AuthKindFirebase:
		if _, ok := auth["firebaseProjectId"]; !ok {
			result.addError("auth.firebaseProjectId", "firebaseProjectId is required for firebase auth")
		}
		if _, ok := auth["firebaseApiKey"]; !ok {
			result.addWarning("auth.firebaseApiKey", "firebaseApiKey not set - the /login password form will be disabled")
		}
	case AuthKindOkta:
		if _, ok := auth["oktaIssuer"]; !ok {
			result.addError("auth.oktaIssuer", "oktaIssuer is required for okta auth")
		}
	case AuthKindStatic:
		hashes, _ := auth["tokenHashes"].([]any)
		if len(hashes) == 0 {
			result.addError("auth.tokenHashes", "tokenHashes must list at least one bcrypt hash. Hint: generate one with biolink-token -hash")
		}
	case "":
		result.addError("auth.kind", "kind is required. Valid kinds: presence, firebase, okta, static")
	default:
		result.addError("auth.kind", "unknown kind '%s'. Valid kinds: presence, firebase, okta, static", kind)
	}

	if csrfKey, ok := auth["csrfKey"]; !ok {
		result.addError("auth.csrfKey", "csrfKey is required for the admin forms")
	} else if err := validateEnvVarReference(csrfKey, "csrfKey", "auth.csrfKey"); err != nil {
		result.Errors = append(result.Errors, *err)
	}
	if apiKey, ok := auth["firebaseApiKey"]; ok {
		if err := validateEnvVarReference(apiKey, "firebaseApiKey", "auth.firebaseApiKey"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}
}

func validateStorageStructure(storage map[string]any, result *ValidationResult) {
	kind, _ := storage["kind"].(string)
	switch StorageKind(kind) {
	case StorageKindMemory, "":
		result.addWarning("storage.kind", "memory storage loses all content on restart")
	case StorageKindFirestore:
		if _, ok := storage["gcpProject"]; !ok {
			result.addError("storage.gcpProject", "gcpProject is required for firestore storage")
		}
	case StorageKindMongoDB:
		uri, ok := storage["mongoUri"]
		if !ok {
			result.addError("storage.mongoUri", "mongoUri is required for mongodb storage")
		} else if err := validateEnvVarReference(uri, "mongoUri", "storage.mongoUri"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
		if _, ok := storage["mongoDatabase"]; !ok {
			result.addError("storage.mongoDatabase", "mongoDatabase is required for mongodb storage")
		}
	default:
		result.addError("storage.kind", "unknown kind '%s'. Valid kinds: memory, firestore, mongodb", kind)
	}
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			// bcrypt hashes are full of '$'
			if key == "tokenHashes" {
				continue
			}
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
