package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}

	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards to be 256, got %d", cfg.NumShards)
	}

	if cfg.TTL != time.Second {
		t.Errorf("expected TTL to be 1 second, got %v", cfg.TTL)
	}

	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			cfg:       DefaultConfig(),
			wantError: false,
		},
		{
			name: "invalid capacity - zero",
			cfg: Config{
				Capacity:           0,
				NumShards:          256,
				TTL:                time.Second,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "must be greater than 0",
		},
		{
			name: "invalid num shards - zero",
			cfg: Config{
				Capacity:           1000,
				NumShards:          0,
				TTL:                time.Second,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "must be greater than 0",
		},
		{
			name: "invalid TTL - zero",
			cfg: Config{
				Capacity:           1000,
				NumShards:          256,
				TTL:                0,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "must be greater than 0",
		},
		{
			name: "invalid eviction percentage - too low",
			cfg: Config{
				Capacity:           1000,
				NumShards:          256,
				TTL:                time.Second,
				EvictionPercentage: 0,
			},
			wantError: true,
			errorMsg:  "must be between 1 and 100",
		},
		{
			name: "invalid eviction percentage - too high",
			cfg: Config{
				Capacity:           1000,
				NumShards:          256,
				TTL:                time.Second,
				EvictionPercentage: 101,
			},
			wantError: true,
			errorMsg:  "must be between 1 and 100",
		},
		{
			name: "invalid eviction interval",
			cfg: Config{
				Capacity:           1000,
				NumShards:          256,
				TTL:                time.Second,
				EvictionPercentage: 10,
				EvictionInterval:   -time.Second,
			},
			wantError: true,
			errorMsg:  "must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantError {
				if err == nil {
					t.Error("expected validation error but got none")
					return
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error message to contain %q, got %q", tt.errorMsg, err.Error())
				}
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("expected *ConfigError, got %T", err)
				}
			} else if err != nil {
				t.Errorf("expected no validation error but got: %v", err)
			}
		})
	}
}

func TestConfig_ToSturdycOptions(t *testing.T) {
	if got := len(DefaultConfig().ToSturdycOptions()); got != 0 {
		t.Errorf("expected no sturdyc options for default config, got %d", got)
	}

	cfg := DefaultConfig()
	cfg.EvictionInterval = time.Minute
	if got := len(cfg.ToSturdycOptions()); got != 1 {
		t.Errorf("expected 1 sturdyc option with eviction interval, got %d", got)
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{
		Field:   "TestField",
		Message: "test message",
	}

	expected := "config error in field TestField: test message"
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}

func TestNewLocalReads_InvalidConfig(t *testing.T) {
	_, err := NewLocalReads(NewMemoryBackend(nil), Config{})
	if err == nil {
		t.Fatal("expected error for zero config")
	}
}

func newLocalReads(t *testing.T) (*LocalReads, *MemoryBackend) {
	t.Helper()
	shared := NewMemoryBackend(nil)
	layer, err := NewLocalReads(shared, Config{
		Capacity:           100,
		NumShards:          4,
		TTL:                time.Hour,
		EvictionPercentage: 10,
	})
	if err != nil {
		t.Fatalf("failed to create local reads: %v", err)
	}
	return layer, shared
}

func TestLocalReads_ServesRepeatedReadsLocally(t *testing.T) {
	ctx := context.Background()
	layer, shared := newLocalReads(t)

	if err := shared.Set(ctx, "k", 3, 0); err != nil {
		t.Fatal(err)
	}

	v, ok, err := layer.Get(ctx, "k")
	if err != nil || !ok || v != 3 {
		t.Fatalf("first read: have %d %v %v, want 3 true nil", v, ok, err)
	}

	// a write that bypasses the layer is invisible until the local entry expires
	if err := shared.Set(ctx, "k", 10, 0); err != nil {
		t.Fatal(err)
	}

	v, _, _ = layer.Get(ctx, "k")
	if v != 3 {
		t.Errorf("have %d, want locally cached 3", v)
	}
}

func TestLocalReads_WritesInvalidateLocalEntry(t *testing.T) {
	ctx := context.Background()
	layer, _ := newLocalReads(t)

	if err := layer.Set(ctx, "k", 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := layer.Get(ctx, "k"); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := layer.IncrementIfExists(ctx, "k", 1); err != nil || !ok {
		t.Fatalf("increment failed: %v %v", ok, err)
	}
	if v, _, _ := layer.Get(ctx, "k"); v != 2 {
		t.Errorf("after increment: have %d, want 2", v)
	}

	if _, ok, err := layer.DecrementIfExists(ctx, "k", 1); err != nil || !ok {
		t.Fatalf("decrement failed: %v %v", ok, err)
	}
	if v, _, _ := layer.Get(ctx, "k"); v != 1 {
		t.Errorf("after decrement: have %d, want 1", v)
	}

	if err := layer.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := layer.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestLocalReads_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	layer, shared := newLocalReads(t)

	if _, ok, _ := layer.Get(ctx, "k"); ok {
		t.Fatal("expected miss")
	}
	if err := shared.Set(ctx, "k", 7, 0); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := layer.Get(ctx, "k"); !ok || v != 7 {
		t.Errorf("have %d %v, want 7 true", v, ok)
	}
}

func TestLocalReads_GetMulti(t *testing.T) {
	ctx := context.Background()
	layer, shared := newLocalReads(t)

	_ = shared.Set(ctx, "a", 1, 0)
	_ = shared.Set(ctx, "b", 2, 0)

	// warm "a" locally
	if _, _, err := layer.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	got, err := layer.GetMulti(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["a"] != 1 || got["b"] != 2 {
		t.Errorf("unexpected result %v", got)
	}
	if _, ok := got["c"]; ok {
		t.Error("absent key must not be returned")
	}
	if layer.Size() != 2 {
		t.Errorf("expected 2 local entries, got %d", layer.Size())
	}
}
