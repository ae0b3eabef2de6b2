package osv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestClient_Query_Success(t *testing.T) {
	var gotBody map[string]any
	server := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"vulns":[{"id":"CVE-2022-1234","summary":"bad","severity":[{"type":"CVSS_V3","score":"7.5"}]}]}`)
	})

	c := NewClient(WithEndpoint(server.URL))
	res := c.Query(context.Background(), EcosystemNPM, "express", "4.16.0")

	require.False(t, res.Failed())
	require.Len(t, res.Vulns, 1)
	assert.Equal(t, "CVE-2022-1234", res.Vulns[0].ID)
	assert.Equal(t, "CVSS_V3", res.Vulns[0].Severity[0].Type)

	pkg := gotBody["package"].(map[string]any)
	assert.Equal(t, "express", pkg["name"])
	assert.Equal(t, "npm", pkg["ecosystem"])
	assert.Equal(t, "4.16.0", gotBody["version"])
}

func TestClient_Query_EmptyResponse(t *testing.T) {
	server := newStubServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	c := NewClient(WithEndpoint(server.URL))
	res := c.Query(context.Background(), EcosystemPyPI, "requests", "2.31.0")

	assert.False(t, res.Failed())
	assert.Empty(t, res.Vulns)
}

func TestClient_Query_HTTPError(t *testing.T) {
	server := newStubServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c := NewClient(WithEndpoint(server.URL))
	res := c.Query(context.Background(), EcosystemNPM, "express", "4.16.0")

	assert.True(t, res.Failed())
	assert.Equal(t, "OSV API returned HTTP 503", res.Err)
}

func TestClient_Query_Timeout(t *testing.T) {
	server := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})

	c := NewClient(WithEndpoint(server.URL), WithTimeout(50*time.Millisecond))
	res := c.Query(context.Background(), EcosystemNPM, "slow", "1.0.0")

	assert.True(t, res.Failed())
	assert.Equal(t, "OSV lookup failed: request timed out", res.Err)
}

func TestClient_Query_MalformedJSON(t *testing.T) {
	server := newStubServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"vulns": [`)
	})

	c := NewClient(WithEndpoint(server.URL))
	res := c.Query(context.Background(), EcosystemNPM, "x", "1.0.0")

	assert.True(t, res.Failed())
	assert.Equal(t, "OSV lookup failed: network error", res.Err)
}

func TestClient_Query_Unreachable(t *testing.T) {
	c := NewClient(WithEndpoint("http://127.0.0.1:1/query"))
	res := c.Query(context.Background(), EcosystemNPM, "x", "1.0.0")

	assert.True(t, res.Failed())
	assert.Equal(t, "OSV lookup failed: network error", res.Err)
}

func TestClient_Query_CachesSuccesses(t *testing.T) {
	var calls atomic.Int64
	server := newStubServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"vulns":[{"id":"CVE-1"}]}`)
	})

	c := NewClient(WithEndpoint(server.URL))
	for i := 0; i < 3; i++ {
		res := c.Query(context.Background(), EcosystemNPM, "express", "4.16.0")
		require.Len(t, res.Vulns, 1)
	}
	assert.Equal(t, int64(1), calls.Load())

	// A different version is a different cache key.
	c.Query(context.Background(), EcosystemNPM, "express", "4.17.0")
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_Query_FailuresNotCached(t *testing.T) {
	var calls atomic.Int64
	server := newStubServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{}`)
	})

	c := NewClient(WithEndpoint(server.URL))
	res := c.Query(context.Background(), EcosystemNPM, "x", "1.0.0")
	assert.True(t, res.Failed())

	res = c.Query(context.Background(), EcosystemNPM, "x", "1.0.0")
	assert.False(t, res.Failed())
	assert.Equal(t, int64(2), calls.Load())
}

func TestLRUCache_EvictsOldest(t *testing.T) {
	cache := newLRUCache(2)
	cache.put("a", []Vulnerability{{ID: "A"}})
	cache.put("b", []Vulnerability{{ID: "B"}})

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := cache.get("a")
	require.True(t, ok)

	cache.put("c", []Vulnerability{{ID: "C"}})
	assert.Equal(t, 2, cache.len())

	_, ok = cache.get("b")
	assert.False(t, ok)
	_, ok = cache.get("a")
	assert.True(t, ok)
	_, ok = cache.get("c")
	assert.True(t, ok)
}

func TestLRUCache_ReplaceDoesNotGrow(t *testing.T) {
	cache := newLRUCache(2)
	cache.put("a", []Vulnerability{{ID: "A1"}})
	cache.put("a", []Vulnerability{{ID: "A2"}})
	assert.Equal(t, 1, cache.len())

	vulns, ok := cache.get("a")
	require.True(t, ok)
	assert.Equal(t, "A2", vulns[0].ID)
}
