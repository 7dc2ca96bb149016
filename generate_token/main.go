package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"shorts-relay/internal/credstore"
	"shorts-relay/internal/uploaders"
)

func main() {
	_ = godotenv.Load()

	tokenPath := flag.String("token", envOr("YOUTUBE_TOKEN_PATH", "token.json"), "Path to save token.json")
	credentialsPath := flag.String("credentials", envOr("YOUTUBE_CLIENT_SECRETS_PATH", "credentials.json"), "Path to the OAuth client secrets file")
	flowName := flag.String("flow", "console", "Authorization flow: console or local_server")
	flag.Parse()

	fmt.Println("YouTube Token Generator")
	fmt.Println("========================================")
	fmt.Println()

	if _, err := os.Stat(*credentialsPath); os.IsNotExist(err) {
		fmt.Printf("Credentials file not found: %s\n", *credentialsPath)
		fmt.Println("   Download from https://console.cloud.google.com/")
		fmt.Println("   1. Go to Google Cloud Console")
		fmt.Println("   2. Create OAuth 2.0 credentials (Desktop app)")
		fmt.Println("   3. Download the JSON file and point -credentials at it")
		os.Exit(1)
	}

	fmt.Printf("Using credentials: %s\n", *credentialsPath)
	fmt.Printf("Token will be saved to: %s\n", *tokenPath)
	fmt.Println()

	ctx := context.Background()

	config, err := uploaders.LoadOAuthConfig(*credentialsPath)
	if err != nil {
		fmt.Printf("Failed to load credentials: %v\n", err)
		os.Exit(1)
	}

	flow := uploaders.FlowByName(*flowName, os.Stdin, os.Stdout)
	token, err := flow(ctx, config)
	if err != nil {
		fmt.Printf("Authorization failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()

	// Same store and format the bot reads, so the file is picked up as is.
	store := credstore.New(credstore.FileBackend{})
	err = store.With(ctx, *tokenPath, func(tx *credstore.Tx) error {
		return tx.WriteJSON(token)
	})
	if err != nil {
		fmt.Printf("Failed to save token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token successfully saved: %s\n", *tokenPath)
	if token.RefreshToken == "" {
		fmt.Println("Warning: no refresh token returned; revoke the app's access and run again to get one.")
	}
	fmt.Println()

	fmt.Println("Start the bot; it refreshes this token on its own from now on.")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
