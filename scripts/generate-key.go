// Package main is a development utility for generating a test API key with
// its bcrypt hash and lookup prefix pre-computed. It prints the raw key, the
// hash, the prefix, and a ready-to-run SQL INSERT so developers can seed a
// usable key in a local database without running the full server flow. Do not
// use generated keys in production — create keys through the admin API so
// they get proper expiry and scope settings.
package main

import (
	"fmt"
	"log"

	"github.com/airlock-platform/airlock/internal/auth"
)

func main() {
	gk, err := auth.GenerateKey("ak_")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("API Key Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nFull Key: %s\n", gk.PlainKey)
	fmt.Printf("\nHash: %s\n", gk.Hash)
	fmt.Printf("\nLookup Prefix: %s\n", gk.Prefix)
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Insert:")
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO api_keys (user_id, username, name, key_hash, key_prefix, scopes, permissions, created_at)
VALUES ('dev-user', 'dev', 'local dev key', '%s', '%s', '["read","write"]', '[]', NOW());
`, gk.Hash, gk.Prefix)
	fmt.Println("\n==========================================================")
	fmt.Printf("Header: X-API-Key: %s\n", gk.PlainKey)
	fmt.Println("==========================================================")
}
