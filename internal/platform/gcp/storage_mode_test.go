package gcp

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
)

func TestResolveObjectStorageConfigFromEnv(t *testing.T) {
	cases := []struct {
		name     string
		mode     string
		emulator string
		want     ObjectStorageMode
		code     ObjectStorageConfigErrorCode
	}{
		{name: "default gcs", want: ObjectStorageModeGCS},
		{name: "explicit gcs ignores emulator", mode: "gcs", emulator: "http://fake-gcs:4443", want: ObjectStorageModeGCS},
		{name: "emulator fallback", emulator: "http://fake-gcs:4443", want: ObjectStorageModeGCSEmulator},
		{name: "explicit emulator", mode: "GCS_EMULATOR", emulator: "http://fake-gcs:4443", want: ObjectStorageModeGCSEmulator},
		{name: "emulator without host", mode: "gcs_emulator", code: ObjectStorageConfigErrorMissingEmulatorHost},
		{name: "emulator bad host", mode: "gcs_emulator", emulator: "fake-gcs", code: ObjectStorageConfigErrorInvalidEmulatorHost},
		{name: "unknown mode", mode: "s3", code: ObjectStorageConfigErrorInvalidMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OBJECT_STORAGE_MODE", tc.mode)
			t.Setenv("STORAGE_EMULATOR_HOST", tc.emulator)

			cfg, err := ResolveObjectStorageConfigFromEnv()
			if tc.code != "" {
				var cfgErr *ObjectStorageConfigError
				if !errors.As(err, &cfgErr) || cfgErr.Code != tc.code {
					t.Fatalf("code: want=%q got=%v", tc.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveObjectStorageConfigFromEnv: %v", err)
			}
			if cfg.Mode != tc.want {
				t.Fatalf("mode: want=%q got=%q", tc.want, cfg.Mode)
			}
		})
	}
}

func TestParseObjectURI(t *testing.T) {
	bucket, object, err := ParseObjectURI("gs://nhs-trud/readv2/2024-10/Corev2.all.gz")
	if err != nil {
		t.Fatalf("ParseObjectURI: %v", err)
	}
	if bucket != "nhs-trud" || object != "readv2/2024-10/Corev2.all.gz" {
		t.Fatalf("ParseObjectURI: bucket=%q object=%q", bucket, object)
	}
	for _, bad := range []string{"/tmp/Corev2.all.gz", "gs://", "gs://bucket", "gs://bucket/", "gs://bucket/dir/"} {
		if _, _, err := ParseObjectURI(bad); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
			t.Fatalf("ParseObjectURI(%q): expected ErrInvalidArgument, got=%v", bad, err)
		}
	}
	if !IsObjectURI("gs://b/o") || IsObjectURI("./data/b/o") {
		t.Fatalf("IsObjectURI misclassified")
	}
}

func TestObjectReaderEmulator(t *testing.T) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RUN_GCS_EMULATOR_INTEGRATION")), "true") {
		t.Skip("set RUN_GCS_EMULATOR_INTEGRATION=true and SNAPSHOT_TEST_URI to run emulator integration tests")
	}
	uri := strings.TrimSpace(os.Getenv("SNAPSHOT_TEST_URI"))
	if uri == "" {
		t.Skip("SNAPSHOT_TEST_URI not set")
	}
	emulatorHost := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST"))
	if emulatorHost == "" {
		emulatorHost = "http://127.0.0.1:4443"
	}

	ctx := context.Background()
	r, err := NewObjectReader(ctx, logger.NewNop(), ObjectStorageConfig{Mode: ObjectStorageModeGCSEmulator, EmulatorHost: emulatorHost})
	if err != nil {
		t.Fatalf("NewObjectReader: %v", err)
	}
	defer r.Close()

	rc, err := r.Open(ctx, uri)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	if n, err := io.Copy(io.Discard, rc); err != nil || n == 0 {
		t.Fatalf("read: n=%d err=%v", n, err)
	}

	bucket, _, _ := ParseObjectURI(uri)
	if _, err := r.Open(ctx, "gs://"+bucket+"/does-not-exist.gz"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("missing object: expected ErrNotFound, got=%v", err)
	}
}
