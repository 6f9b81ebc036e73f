package gcp

import "testing"

func TestStorageClientOptionsPrecedence(t *testing.T) {
	t.Setenv("CLIP_GCS_CREDENTIALS", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	if got := len(storageClientOptions()); got != 1 {
		t.Fatalf("no credentials: want scope option only, got=%d options", got)
	}

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/etc/gcp/key.json")
	if got := len(storageClientOptions()); got != 2 {
		t.Fatalf("file credentials: got=%d options", got)
	}

	t.Setenv("CLIP_GCS_CREDENTIALS", `{"type":"service_account"}`)
	if got := len(storageClientOptions()); got != 2 {
		t.Fatalf("inline credentials: got=%d options", got)
	}
}
