// Command tokengen mints and inspects usher access tokens for local
// development. It signs with the well-known dev placeholder key by default,
// which hardened deployments refuse, so nothing minted here works in
// production.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"usher/internal/platform/config"
	"usher/internal/platform/environment"
	"usher/internal/token"
)

const (
	defaultIdentity = "dev@usher.local"
	defaultIssuer   = "usher"
	defaultAudience = "usher"
	defaultTTL      = 2 * time.Hour
)

type mintOutput struct {
	Token     string         `json:"token"`
	Type      string         `json:"type"`
	ExpiresIn string         `json:"expires_in"`
	Claims    map[string]any `json:"claims"`
	Usage     string         `json:"usage"`
}

type inspectOutput struct {
	Valid    bool   `json:"valid"`
	Identity string `json:"identity,omitempty"`
	IssuedAt string `json:"issued_at,omitempty"`
	Expires  string `json:"expires,omitempty"`
	TokenID  string `json:"token_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func main() {
	mintCmd := flag.NewFlagSet("mint", flag.ExitOnError)
	mintIdentity := mintCmd.String("identity", defaultIdentity, "Email the token is minted for")
	mintTTL := mintCmd.Duration("ttl", defaultTTL, "Token time-to-live")
	mintKey := mintCmd.String("key", config.DevSigningKey, "HS256 signing key")
	mintIssuer := mintCmd.String("issuer", defaultIssuer, "Issuer claim")
	mintAudience := mintCmd.String("audience", defaultAudience, "Audience claim")
	mintJSON := mintCmd.Bool("json", false, "Output as JSON")

	inspectCmd := flag.NewFlagSet("inspect", flag.ExitOnError)
	inspectKey := inspectCmd.String("key", config.DevSigningKey, "HS256 signing key")
	inspectIssuer := inspectCmd.String("issuer", defaultIssuer, "Expected issuer claim")
	inspectAudience := inspectCmd.String("audience", defaultAudience, "Expected audience claim")
	inspectJSON := inspectCmd.Bool("json", false, "Output as JSON")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "mint":
		mintCmd.Parse(os.Args[2:])
		mint(*mintIdentity, *mintTTL, *mintKey, *mintIssuer, *mintAudience, *mintJSON)
	case "inspect":
		inspectCmd.Parse(os.Args[2:])
		if inspectCmd.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "inspect needs exactly one token argument")
			os.Exit(1)
		}
		inspect(inspectCmd.Arg(0), *inspectKey, *inspectIssuer, *inspectAudience, *inspectJSON)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - mint and inspect usher access tokens

WARNING: the default signing key is the dev placeholder. Hardened
         deployments refuse it, so these tokens are local-only.

Usage:
  tokengen <command> [flags]

Commands:
  mint      Mint an access token for an identity
  inspect   Verify a token and print its claims

Examples:
  # Mint a token with defaults
  tokengen mint

  # Mint for a specific identity with a short lifetime
  tokengen mint -identity dana@example.com -ttl 15m

  # Check what a token carries
  tokengen inspect <token>

  # Output as JSON
  tokengen mint -json

Use "tokengen <command> -h" for command flags.`)
}

func newIssuer(key, iss, aud string, ttl time.Duration) *token.Issuer {
	return token.New(config.Token{
		SigningKey: key,
		TTL:        ttl,
		Issuer:     iss,
		Audience:   aud,
	}, environment.Static("development"))
}

func mint(identity string, ttl time.Duration, key, iss, aud string, jsonOutput bool) {
	issuer := newIssuer(key, iss, aud, ttl)

	signed, err := issuer.Mint(context.Background(), identity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error minting token: %v\n", err)
		os.Exit(1)
	}

	keyType := "custom"
	if key == config.DevSigningKey {
		keyType = "dev"
	}

	if jsonOutput {
		printJSON(mintOutput{
			Token:     signed,
			Type:      "access_token",
			ExpiresIn: ttl.String(),
			Claims: map[string]any{
				"sub": identity,
				"iss": iss,
				"aud": aud,
			},
			Usage: "Authorization: Bearer <token>",
		})
		return
	}

	fmt.Println("Access Token")
	fmt.Println("============")
	fmt.Printf("Signing Key: %s\n", keyType)
	fmt.Printf("Identity:    %s\n", identity)
	fmt.Printf("Expires In:  %s\n", ttl)
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(signed)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/auth/me")
}

func inspect(raw, key, iss, aud string, jsonOutput bool) {
	// TTL is irrelevant for verification; expiry comes from the token itself.
	issuer := newIssuer(key, iss, aud, time.Minute)

	claims, err := issuer.Verify(context.Background(), raw)
	if err != nil {
		if jsonOutput {
			printJSON(inspectOutput{Valid: false, Error: err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Token rejected: %v\n", err)
		}
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(inspectOutput{
			Valid:    true,
			Identity: claims.Identity(),
			IssuedAt: formatDate(claims.IssuedAt),
			Expires:  formatDate(claims.ExpiresAt),
			TokenID:  claims.ID,
		})
		return
	}

	fmt.Println("Token OK")
	fmt.Println("========")
	fmt.Printf("Identity:  %s\n", claims.Identity())
	fmt.Printf("Issued At: %s\n", formatDate(claims.IssuedAt))
	fmt.Printf("Expires:   %s\n", formatDate(claims.ExpiresAt))
	fmt.Printf("Token ID:  %s\n", claims.ID)
}

func formatDate(d *jwt.NumericDate) string {
	if d == nil {
		return "not set"
	}
	return d.Format(time.RFC3339)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
