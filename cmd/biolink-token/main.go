// Command biolink-token obtains bearer tokens for the biolink API.
//
// With -email it signs in with the Firebase password flow and prints the ID
// token. With -refresh it trades a refresh token for a fresh ID token. With
// -hash it generates a random automation token and prints it with the bcrypt
// hash to add to auth.tokenHashes.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dgellow/biolink/internal/crypto"
	"github.com/dgellow/biolink/internal/idp"
	"github.com/dgellow/biolink/internal/log"
)

func main() {
	apiKey := flag.String("api-key", os.Getenv("FIREBASE_API_KEY"), "Firebase web API key (default $FIREBASE_API_KEY)")
	email := flag.String("email", "", "sign in with this email; the password is read from $BIOLINK_PASSWORD or stdin")
	refresh := flag.String("refresh", "", "refresh token to trade for a fresh ID token")
	hash := flag.Bool("hash", false, "generate an automation token and its bcrypt hash")
	showRefresh := flag.Bool("show-refresh", false, "also print the refresh token")
	flag.Parse()

	if *hash {
		if err := generateToken(os.Stdout); err != nil {
			log.LogError("Failed to generate token: %v", err)
			os.Exit(1)
		}
		return
	}

	if *email == "" && *refresh == "" {
		fmt.Fprintf(os.Stderr, "Error: one of -email, -refresh or -hash is required\n")
		flag.Usage()
		os.Exit(1)
	}

	client, err := idp.NewClient(idp.ClientConfig{APIKey: *apiKey})
	if err != nil {
		log.LogError("Failed to create client: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var tok *oauth2.Token
	if *refresh != "" {
		tok, err = client.TokenSource(ctx, &oauth2.Token{RefreshToken: *refresh}).Token()
	} else {
		var password string
		password, err = readPassword()
		if err == nil {
			tok, err = client.SignInWithPassword(ctx, *email, password)
		}
	}
	if err != nil {
		log.LogError("Failed to obtain token: %v", err)
		os.Exit(1)
	}

	fmt.Println(tok.AccessToken)
	if *showRefresh && tok.RefreshToken != "" {
		fmt.Fprintf(os.Stderr, "refresh token: %s\n", tok.RefreshToken)
	}
	if !tok.Expiry.IsZero() {
		fmt.Fprintf(os.Stderr, "expires: %s\n", tok.Expiry.Format(time.RFC3339))
	}
}

func readPassword() (string, error) {
	if p := os.Getenv("BIOLINK_PASSWORD"); p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func generateToken(w io.Writer) error {
	token, err := crypto.GenerateSecureToken()
	if err != nil {
		return err
	}
	hashed, err := crypto.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "token: %s\n", token)
	fmt.Fprintf(w, "hash:  %s\n", hashed)
	return nil
}
