package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/dgellow/biolink/internal/crypto"
)

const (
	binaryPath  = "../cmd/biolink/biolink"
	testCSRFKey = "integration-csrf-key-0123456789abcdef"
)

// trace logs a message if TRACE environment variable is set
func trace(t *testing.T, format string, args ...any) {
	if os.Getenv("TRACE") == "1" {
		t.Logf("TRACE: "+format, args...)
	}
}

// writeTestConfig writes a config map to a temporary JSON file and returns its path.
func writeTestConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal test config: %v", err)
	}
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close temp config: %v", err)
	}
	return f.Name()
}

// buildTestConfig builds a complete biolink config listening on addr
func buildTestConfig(addr string, auth map[string]any) map[string]any {
	auth["csrfKey"] = map[string]string{"$env": "CSRF_KEY"}
	return map[string]any{
		"version": "v0.0.1-DEV_EDITION",
		"server": map[string]any{
			"baseURL":        "http://localhost" + addr,
			"addr":           addr,
			"allowedOrigins": []string{"https://bio.example.com"},
		},
		"auth":    auth,
		"storage": map[string]any{"kind": "memory"},
	}
}

// staticAuth returns an auth section accepting the given automation tokens
func staticAuth(t *testing.T, tokens ...string) map[string]any {
	t.Helper()
	hashes := make([]string, 0, len(tokens))
	for _, token := range tokens {
		h, err := crypto.HashToken(token)
		if err != nil {
			t.Fatalf("Failed to hash token: %v", err)
		}
		hashes = append(hashes, string(h))
	}
	return map[string]any{
		"kind":              "static",
		"tokenHashes":       hashes,
		"verifyGuardCookie": true,
	}
}

// startBioLink starts the biolink binary with the given config and waits
// for it to report healthy
func startBioLink(t *testing.T, configPath, baseURL string, extraEnv ...string) {
	t.Helper()
	cmd := exec.Command(binaryPath, "-config", configPath)
	cmd.Env = append(os.Environ(), "CSRF_KEY="+testCSRFKey)
	cmd.Env = append(cmd.Env, extraEnv...)

	if logFile := os.Getenv("BIOLINK_LOG_FILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			cmd.Stderr = f
			cmd.Stdout = f
			t.Cleanup(func() { f.Close() })
		}
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start biolink: %v", err)
	}
	t.Cleanup(func() {
		stopBioLink(cmd)
	})

	waitForBioLink(t, baseURL)
}

// stopBioLink stops the server gracefully, killing it after 5 seconds
func stopBioLink(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

func waitForBioLink(t *testing.T, baseURL string) {
	t.Helper()
	for range 20 {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatal("biolink failed to become ready after 10 seconds")
}

// noRedirectClient returns redirects to the caller instead of following them
func noRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// apiRequest sends a JSON request with an optional bearer token and returns
// the status and body
func apiRequest(t *testing.T, method, url, token, body string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := noRedirectClient().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	trace(t, "%s %s -> %d %s", method, url, resp.StatusCode, data)
	return resp.StatusCode, string(data)
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("Failed to decode %q: %v", body, err)
	}
	return v
}

func addr(port int) (string, string) {
	a := fmt.Sprintf(":%d", port)
	return a, "http://localhost" + a
}
