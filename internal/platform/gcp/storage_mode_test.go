package gcp

import (
	"errors"
	"testing"
)

func TestInferObjectStorageMode(t *testing.T) {
	cases := []struct {
		bucket, emulator string
		mode             ObjectStorageMode
		fallback         bool
	}{
		{"", "", ObjectStorageModeLocal, false},
		{"", "http://fake-gcs:4443", ObjectStorageModeLocal, false},
		{"clips", "", ObjectStorageModeGCS, true},
		{"clips", "http://fake-gcs:4443", ObjectStorageModeGCSEmulator, true},
	}
	for _, tc := range cases {
		mode, fallback := InferObjectStorageMode(tc.bucket, tc.emulator)
		if mode != tc.mode || fallback != tc.fallback {
			t.Fatalf("Infer(%q,%q): got=%q,%v want=%q,%v", tc.bucket, tc.emulator, mode, fallback, tc.mode, tc.fallback)
		}
	}
}

func TestObjectStorageConfigValidate(t *testing.T) {
	ok := []ObjectStorageConfig{
		{Mode: ObjectStorageModeLocal},
		{Mode: ObjectStorageModeGCS, Bucket: "clips"},
		{Mode: ObjectStorageModeGCSEmulator, Bucket: "clips", EmulatorHost: "http://fake-gcs:4443"},
	}
	for _, cfg := range ok {
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate(%+v): %v", cfg, err)
		}
	}

	cases := []struct {
		name string
		cfg  ObjectStorageConfig
		want ObjectStorageConfigErrorCode
	}{
		{"invalid mode", ObjectStorageConfig{Mode: "s3", Bucket: "clips"}, ObjectStorageConfigErrorInvalidMode},
		{"missing bucket", ObjectStorageConfig{Mode: ObjectStorageModeGCS}, ObjectStorageConfigErrorMissingBucket},
		{"missing emulator host", ObjectStorageConfig{Mode: ObjectStorageModeGCSEmulator, Bucket: "clips"}, ObjectStorageConfigErrorMissingEmulatorHost},
		{"invalid emulator host", ObjectStorageConfig{Mode: ObjectStorageModeGCSEmulator, Bucket: "clips", EmulatorHost: "fake-gcs:4443"}, ObjectStorageConfigErrorInvalidEmulatorHost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfgErr *ObjectStorageConfigError
			if err := tc.cfg.Validate(); !errors.As(err, &cfgErr) {
				t.Fatalf("expected ObjectStorageConfigError, got=%v", err)
			}
			if cfgErr.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, cfgErr.Code)
			}
			if cfgErr.Error() == "" {
				t.Fatalf("empty message")
			}
		})
	}
}

func TestModeSource(t *testing.T) {
	if got := (ObjectStorageConfig{CompatibilityFallback: true}).ModeSource(); got != "compatibility_fallback" {
		t.Fatalf("ModeSource: got=%q", got)
	}
}

func TestClipKey(t *testing.T) {
	if got := ClipKey("abc"); got != "clips/abc.mp4" {
		t.Fatalf("ClipKey: got=%q", got)
	}
	if got := contentTypeForKey(ClipKey("abc")); got != "video/mp4" {
		t.Fatalf("content type: got=%q", got)
	}
}
