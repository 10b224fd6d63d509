package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, zap.NewNop())
}

func TestSetIOCThenGetIOCRoundTrips(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	c.SetIOC(ctx, "tenant-a", "ip", "10.0.0.1", map[string]interface{}{"malicious": true}, 90)

	data, ok := c.GetIOC(ctx, "tenant-a", "ip", "10.0.0.1")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if data["malicious"] != true {
		t.Errorf("data = %v, want malicious=true", data)
	}
}

func TestGetIOCMissReturnsFalse(t *testing.T) {
	c := newTestClient(t)
	if _, ok := c.GetIOC(context.Background(), "tenant-a", "ip", "unknown"); ok {
		t.Error("expected ok=false for an uncached IOC")
	}
}

func TestIOCCacheIsTenantScoped(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	c.SetIOC(ctx, "tenant-a", "ip", "10.0.0.1", map[string]interface{}{"owner": "a"}, 90)
	if _, ok := c.GetIOC(ctx, "tenant-b", "ip", "10.0.0.1"); ok {
		t.Error("tenant-b should not see tenant-a's cached IOC")
	}
}

func TestDeleteIOCRemovesEntry(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	c.SetIOC(ctx, "tenant-a", "ip", "10.0.0.1", map[string]interface{}{}, 10)
	if !c.DeleteIOC(ctx, "tenant-a", "ip", "10.0.0.1") {
		t.Error("expected delete to report a removed key")
	}
	if _, ok := c.GetIOC(ctx, "tenant-a", "ip", "10.0.0.1"); ok {
		t.Error("expected miss after delete")
	}
}

func TestDeleteIOCOnMissingKeyReturnsFalse(t *testing.T) {
	c := newTestClient(t)
	if c.DeleteIOC(context.Background(), "tenant-a", "ip", "never-set") {
		t.Error("expected false for deleting a non-existent key")
	}
}

func TestSetFPPatternThenGetFPPatternRoundTrips(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	c.SetFPPattern(ctx, "tenant-a", "pattern-1", map[string]interface{}{"rule": "benign_scanner"})

	data, ok := c.GetFPPattern(ctx, "tenant-a", "pattern-1")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if data["rule"] != "benign_scanner" {
		t.Errorf("data = %v, want rule=benign_scanner", data)
	}
}

func TestListFPPatternsReturnsOnlyTenantKeys(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	c.SetFPPattern(ctx, "tenant-a", "p1", map[string]interface{}{})
	c.SetFPPattern(ctx, "tenant-a", "p2", map[string]interface{}{})
	c.SetFPPattern(ctx, "tenant-b", "p3", map[string]interface{}{})

	keys := c.ListFPPatterns(ctx, "tenant-a")
	if len(keys) != 2 {
		t.Errorf("got %d keys, want 2 for tenant-a", len(keys))
	}
}

func TestHealthCheckReportsConnectivity(t *testing.T) {
	c := newTestClient(t)
	if !c.HealthCheck(context.Background()) {
		t.Error("expected healthy connection to miniredis")
	}
}
