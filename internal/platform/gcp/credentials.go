package gcp

import (
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// credentialEnvKeys are checked in order; the first non-empty value wins.
// A value starting with "{" is inline service account JSON, anything else
// is a path to a key file.
var credentialEnvKeys = []string{
	"CLIP_GCS_CREDENTIALS",
	"GOOGLE_APPLICATION_CREDENTIALS_JSON",
	"GOOGLE_APPLICATION_CREDENTIALS",
}

func storageClientOptions() []option.ClientOption {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	for _, key := range credentialEnvKeys {
		creds := strings.TrimSpace(os.Getenv(key))
		if creds == "" {
			continue
		}
		if strings.HasPrefix(creds, "{") {
			return append(opts, option.WithCredentialsJSON([]byte(creds)))
		}
		return append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}
