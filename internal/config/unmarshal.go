package config

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON resolves env references in the server section
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type rawServer struct {
		BaseURL        json.RawMessage `json:"baseURL"`
		Addr           json.RawMessage `json:"addr"`
		AllowedOrigins []string        `json:"allowedOrigins"`
	}

	var raw rawServer
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.AllowedOrigins = raw.AllowedOrigins
	if err := parseOptional(raw.BaseURL, "baseURL", &s.BaseURL); err != nil {
		return err
	}
	return parseOptional(raw.Addr, "addr", &s.Addr)
}

// UnmarshalJSON resolves env references in the auth section
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		Kind              AuthKind        `json:"kind"`
		FirebaseProjectID json.RawMessage `json:"firebaseProjectId"`
		FirebaseAPIKey    json.RawMessage `json:"firebaseApiKey"`
		OktaIssuer        json.RawMessage `json:"oktaIssuer"`
		OktaClientID      json.RawMessage `json:"oktaClientId"`
		OktaAudience      string          `json:"oktaAudience"`
		TokenHashes       []string        `json:"tokenHashes"`
		CSRFKey           json.RawMessage `json:"csrfKey"`
		VerifyGuardCookie bool            `json:"verifyGuardCookie"`
		OwnerEmails       []string        `json:"ownerEmails"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Kind = raw.Kind
	a.OktaAudience = raw.OktaAudience
	a.TokenHashes = raw.TokenHashes
	a.VerifyGuardCookie = raw.VerifyGuardCookie
	a.OwnerEmails = raw.OwnerEmails

	if err := parseOptional(raw.FirebaseProjectID, "firebaseProjectId", &a.FirebaseProjectID); err != nil {
		return err
	}
	if err := parseOptional(raw.OktaIssuer, "oktaIssuer", &a.OktaIssuer); err != nil {
		return err
	}
	if err := parseOptional(raw.OktaClientID, "oktaClientId", &a.OktaClientID); err != nil {
		return err
	}

	var apiKey, csrfKey string
	if err := parseOptional(raw.FirebaseAPIKey, "firebaseApiKey", &apiKey); err != nil {
		return err
	}
	if err := parseOptional(raw.CSRFKey, "csrfKey", &csrfKey); err != nil {
		return err
	}
	a.FirebaseAPIKey = Secret(apiKey)
	a.CSRFKey = Secret(csrfKey)

	return nil
}

// UnmarshalJSON resolves env references in the storage section
func (s *StorageConfig) UnmarshalJSON(data []byte) error {
	type rawStorage struct {
		Kind              StorageKind     `json:"kind"`
		GCPProject        json.RawMessage `json:"gcpProject"`
		FirestoreDatabase string          `json:"firestoreDatabase"`
		CollectionPrefix  string          `json:"collectionPrefix"`
		MongoURI          json.RawMessage `json:"mongoUri"`
		MongoDatabase     string          `json:"mongoDatabase"`
	}

	var raw rawStorage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Kind = raw.Kind
	s.FirestoreDatabase = raw.FirestoreDatabase
	s.CollectionPrefix = raw.CollectionPrefix
	s.MongoDatabase = raw.MongoDatabase

	if err := parseOptional(raw.GCPProject, "gcpProject", &s.GCPProject); err != nil {
		return err
	}

	var uri string
	if err := parseOptional(raw.MongoURI, "mongoUri", &uri); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	s.MongoURI = Secret(uri)

	return nil
}
