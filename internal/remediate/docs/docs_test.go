package docs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltin_Lookup(t *testing.T) {
	t.Parallel()

	c := Builtin()
	tests := []struct {
		name    string
		kind    string
		message string
		want    string
	}{
		{
			name:    "datasource",
			kind:    "java.lang.IllegalStateException",
			message: "Failed to determine a suitable driver class for datasource",
			want:    "https://docs.spring.io/spring-boot/how-to/data-access.html#howto.data-access.configure-custom-datasource",
		},
		{
			name:    "spring property",
			kind:    "java.lang.IllegalArgumentException",
			message: "Could not resolve placeholder 'orders.api.key' in value \"${orders.api.key}\"",
			want:    "https://docs.spring.io/spring-boot/reference/features/external-config.html",
		},
		{
			name:    "environment variable",
			kind:    "Error",
			message: "ORDERS_DB_URL must be set",
			want:    "https://kubernetes.io/docs/concepts/configuration/configmap/",
		},
		{
			name:    "config kind only",
			kind:    "django.core.exceptions.ImproperlyConfigured",
			message: "The SECRET_KEY setting must not be empty.",
			want:    "https://kubernetes.io/docs/concepts/configuration/configmap/",
		},
		{
			name:    "python key error",
			kind:    "KeyError",
			message: "'database'",
			want:    "https://12factor.net/config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ref, err := c.LookupConfigDoc(context.Background(), tt.kind, tt.message)
			if err != nil {
				t.Fatalf("LookupConfigDoc: %v", err)
			}
			if ref.Reference != tt.want {
				t.Errorf("Reference = %q, want %q", ref.Reference, tt.want)
			}
			if ref.Title == "" {
				t.Error("Title is empty")
			}
		})
	}
}

func TestLookup_NoMatch(t *testing.T) {
	t.Parallel()

	_, err := Builtin().LookupConfigDoc(context.Background(), "java.io.IOException", "disk full")
	if !errors.Is(err, ErrNoDocumentation) {
		t.Fatalf("err = %v, want ErrNoDocumentation", err)
	}
}

func TestLookup_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Builtin().LookupConfigDoc(ctx, "KeyError", "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestParse_KindsAndMatchBothApply(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`
docs:
  - title: Redis settings
    url: https://wiki.test/redis
    kinds: [com.acme.cache.CacheConfigException]
    match: (?i)redis
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ctx := context.Background()

	if ref, err := c.LookupConfigDoc(ctx, "com.acme.cache.CacheConfigException", "redis host missing"); err != nil || ref.Reference != "https://wiki.test/redis" {
		t.Errorf("full kind: ref=%v err=%v", ref, err)
	}
	if _, err := c.LookupConfigDoc(ctx, "com.acme.cache.CacheConfigException", "memcached host missing"); !errors.Is(err, ErrNoDocumentation) {
		t.Errorf("message mismatch should not match, err=%v", err)
	}
	if _, err := c.LookupConfigDoc(ctx, "CacheConfigException", "redis host missing"); !errors.Is(err, ErrNoDocumentation) {
		t.Errorf("qualified entry kind should not match a short signal kind, err=%v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no title", "docs:\n  - url: https://x.test\n    match: a\n", "title is required"},
		{"no url", "docs:\n  - title: X\n    match: a\n", "url is required"},
		{"no condition", "docs:\n  - title: X\n    url: https://x.test\n", "at least one of kinds or match"},
		{"bad regex", "docs:\n  - title: X\n    url: https://x.test\n    match: '('\n", "match:"},
		{"not yaml", "docs: [", "decode doc catalog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadAndExtend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "docs.yaml")
	if err := os.WriteFile(path, []byte("docs:\n  - title: Orders runbook\n    url: https://wiki.test/orders\n    kinds: [OrdersConfigError]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	custom, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	c := custom.Extend(Builtin())
	if c.Len() != custom.Len()+Builtin().Len() {
		t.Errorf("Len = %d", c.Len())
	}
	ref, err := c.LookupConfigDoc(context.Background(), "OrdersConfigError", "ORDERS_DB_URL missing")
	if err != nil || ref.Reference != "https://wiki.test/orders" {
		t.Errorf("custom entry should win: ref=%v err=%v", ref, err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
