package gcp

import (
	"errors"
	"testing"
)

func TestResolveStorageConfigFromEnvDefaultGCS(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	t.Setenv("FRAMES_GCS_BUCKET_NAME", "frames")
	t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", "")

	cfg, err := ResolveStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveStorageConfigFromEnv: %v", err)
	}
	if cfg.Mode != StorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", StorageModeGCS, cfg.Mode)
	}
	if cfg.Inferred {
		t.Fatalf("inferred: want=false got=true")
	}
}

func TestResolveStorageConfigFromEnvInfersEmulator(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443/")
	t.Setenv("FRAMES_GCS_BUCKET_NAME", "frames")
	t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", "")

	cfg, err := ResolveStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveStorageConfigFromEnv: %v", err)
	}
	if cfg.Mode != StorageModeGCSEmulator || !cfg.Inferred {
		t.Fatalf("mode: want=%q inferred got=%q inferred=%v", StorageModeGCSEmulator, cfg.Mode, cfg.Inferred)
	}
	if cfg.EmulatorHost != "http://fake-gcs:4443" {
		t.Fatalf("emulator host: want=%q got=%q", "http://fake-gcs:4443", cfg.EmulatorHost)
	}
}

func TestResolveStorageConfigFromEnvErrors(t *testing.T) {
	cases := []struct {
		name     string
		mode     string
		emulator string
		bucket   string
		base     string
		want     StorageConfigErrorCode
	}{
		{name: "invalid mode", mode: "local", bucket: "frames", want: StorageConfigErrorInvalidMode},
		{name: "missing bucket", mode: "gcs", want: StorageConfigErrorMissingBucket},
		{name: "missing emulator host", mode: "gcs_emulator", bucket: "frames", want: StorageConfigErrorMissingEmulatorHost},
		{name: "relative emulator host", mode: "gcs_emulator", emulator: "fake-gcs:4443", bucket: "frames", want: StorageConfigErrorInvalidURL},
		{name: "relative public base", mode: "gcs", bucket: "frames", base: "localhost:4443", want: StorageConfigErrorInvalidURL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OBJECT_STORAGE_MODE", tc.mode)
			t.Setenv("STORAGE_EMULATOR_HOST", tc.emulator)
			t.Setenv("FRAMES_GCS_BUCKET_NAME", tc.bucket)
			t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", tc.base)

			_, err := ResolveStorageConfigFromEnv()
			var cfgErr *StorageConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error type: want=*StorageConfigError got=%T (%v)", err, err)
			}
			if cfgErr.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, cfgErr.Code)
			}
		})
	}
}
