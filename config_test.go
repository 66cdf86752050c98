package serversession

import (
	"testing"
	"time"
)

func TestPartitionConfigResolve(t *testing.T) {
	cases := []struct {
		name   string
		cfg    PartitionConfig
		expect string
	}{
		{"defaults", PartitionConfig{}, "default/cookie"},
		{"app only", PartitionConfig{ApplicationName: "portal"}, "portal/cookie"},
		{"scheme only", PartitionConfig{AuthenticationScheme: "oidc"}, "default/oidc"},
		{"both", PartitionConfig{ApplicationName: "portal", AuthenticationScheme: "oidc"}, "portal/oidc"},
	}
	for _, tc := range cases {
		if got := tc.cfg.resolve(); got != tc.expect {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.expect, got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	cfg = defaultConfig()
	cfg.Cleanup.Interval = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("enabled cleanup without interval must fail")
	}

	cfg = defaultConfig()
	cfg.Cleanup.Enabled = false
	cfg.Cleanup.Interval = 0
	if err := cfg.validate(); err != nil {
		t.Fatalf("disabled cleanup may omit the interval: %v", err)
	}

	cfg = defaultConfig()
	cfg.Cleanup.BatchSize = -1
	if err := cfg.validate(); err == nil {
		t.Fatal("negative batch size must fail")
	}

	cfg = defaultConfig()
	cfg.Usage.ClientLimit = -1
	if err := cfg.validate(); err == nil {
		t.Fatal("negative client limit must fail")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if !cfg.Cleanup.Enabled {
		t.Fatal("cleanup must default on")
	}
	if cfg.Cleanup.Interval != 10*time.Minute {
		t.Fatalf("unexpected default interval %v", cfg.Cleanup.Interval)
	}
	if cfg.Cleanup.BatchSize != 100 {
		t.Fatalf("unexpected default batch size %d", cfg.Cleanup.BatchSize)
	}
}
