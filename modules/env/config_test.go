package env

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BucketWidthSeconds != defaultBucketWidthSeconds {
		t.Errorf("BucketWidthSeconds = %d, want %d", cfg.BucketWidthSeconds, defaultBucketWidthSeconds)
	}
	if cfg.MaxFileParallelism != defaultMaxFileParallelism {
		t.Errorf("MaxFileParallelism = %d, want %d", cfg.MaxFileParallelism, defaultMaxFileParallelism)
	}
	if cfg.FileSizeCapBytes != defaultFileSizeCapBytes {
		t.Errorf("FileSizeCapBytes = %d, want %d", cfg.FileSizeCapBytes, defaultFileSizeCapBytes)
	}
	if cfg.ReplTimeout != defaultReplTimeout {
		t.Errorf("ReplTimeout = %v, want %v", cfg.ReplTimeout, defaultReplTimeout)
	}
}

func TestLoadConfigParsesHumanSizeCap(t *testing.T) {
	t.Setenv("FILE_SIZE_CAP_BYTES", "100m")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if want := int64(100 * 1024 * 1024); cfg.FileSizeCapBytes != want {
		t.Errorf("FileSizeCapBytes = %d, want %d", cfg.FileSizeCapBytes, want)
	}
}

func TestLoadConfigRejectsMalformedSizeCap(t *testing.T) {
	t.Setenv("FILE_SIZE_CAP_BYTES", "not-a-size")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected an error for a malformed FILE_SIZE_CAP_BYTES")
	}
}
