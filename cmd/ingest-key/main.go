// Command ingest-key generates a shared ingestion API key and the bcrypt
// hash the server verifies it against. Hand the key to the ingestion source
// and set INGEST_API_KEY_HASH to the hash; the plaintext is never stored.
package main

import (
	"fmt"
	"os"

	"commhub/pkg/secrets"
)

func main() {
	key, err := secrets.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}
	hash, err := secrets.Hash(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("API key (give to the ingestion source):\n  %s\n\n", key)
	fmt.Printf("INGEST_API_KEY_HASH (set on the server):\n  %s\n", hash)
}
