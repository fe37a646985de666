package config

import "testing"

func TestFromYAMLAppliesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
dimensions: 128
storage:
  kind: memory
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Distance != "cosine" {
		t.Errorf("Distance = %q, want cosine", cfg.Distance)
	}
	if cfg.HNSW.M != 16 || cfg.HNSW.MMax0 != 32 {
		t.Errorf("HNSW = %+v, want defaulted M=16 M_max0=32", cfg.HNSW)
	}
	if cfg.Cache.HotMaxSize != 1000 {
		t.Errorf("Cache.HotMaxSize = %d, want 1000", cfg.Cache.HotMaxSize)
	}
	if cfg.Statistics.MinFlushMs != 5000 || cfg.Statistics.MaxHoldbackMs != 30000 {
		t.Errorf("Statistics = %+v, want defaulted 5000/30000", cfg.Statistics)
	}
}

func TestFromYAMLRejectsUnknownField(t *testing.T) {
	_, err := FromYAML([]byte(`
dimensions: 128
storage:
  kind: memory
bogusField: true
`))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidateRejectsZeroDimensions(t *testing.T) {
	_, err := FromYAML([]byte(`
storage:
  kind: memory
`))
	if err == nil {
		t.Fatal("expected error for missing dimensions")
	}
}

func TestValidateRejectsUnknownDistance(t *testing.T) {
	_, err := FromYAML([]byte(`
dimensions: 8
distance: manhattan
storage:
  kind: memory
`))
	if err == nil {
		t.Fatal("expected error for unknown distance")
	}
}

func TestValidateRequiresRootForLocalFS(t *testing.T) {
	_, err := FromYAML([]byte(`
dimensions: 8
storage:
  kind: local-fs
`))
	if err == nil {
		t.Fatal("expected error for missing storage.root")
	}
}

func TestValidateRequiresBucketForS3(t *testing.T) {
	_, err := FromYAML([]byte(`
dimensions: 8
storage:
  kind: s3
  region: us-east-1
`))
	if err == nil {
		t.Fatal("expected error for missing storage.bucket")
	}
}

func TestValidateRequiresEndpointForNonAWSStyle(t *testing.T) {
	_, err := FromYAML([]byte(`
dimensions: 8
storage:
  kind: s3
  bucket: b
  style: r2
`))
	if err == nil {
		t.Fatal("expected error for missing endpoint with non-aws style")
	}
}

func TestValidateRejectsEvictionThresholdOutOfRange(t *testing.T) {
	_, err := FromYAML([]byte(`
dimensions: 8
storage:
  kind: memory
cache:
  evictionThreshold: 0.99
`))
	if err == nil {
		t.Fatal("expected error for out-of-range evictionThreshold")
	}
}

func TestValidateAcceptsFullyConfiguredS3(t *testing.T) {
	cfg, err := FromYAML([]byte(`
dimensions: 8
storage:
  kind: s3
  bucket: vectors
  region: auto
  style: r2
  endpoint: https://abc.r2.cloudflarestorage.com
  credentials:
    accessKeyId: id
    secretAccessKey: secret
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Credentials == nil || cfg.Storage.Credentials.AccessKeyID != "id" {
		t.Errorf("Credentials = %+v", cfg.Storage.Credentials)
	}
}
