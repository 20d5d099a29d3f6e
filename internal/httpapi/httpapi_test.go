package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/carbondb/carbon/internal/authcache"
	"github.com/carbondb/carbon/internal/clock"
	"github.com/carbondb/carbon/internal/httpapi"
	"github.com/carbondb/carbon/internal/registry"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	clk := clock.System{}
	reg := registry.New(clk, zerolog.Nop())
	auth := authcache.New(authcache.Config{
		ServerSecret: []byte("test-secret"),
		Argon:        authcache.ArgonParams{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 16},
	}, clk, zerolog.Nop())
	t.Cleanup(auth.Close)
	require.NoError(t, auth.AddPrincipal("admin", "admin123", authcache.RoleAdmin))

	handler := httpapi.NewRouter(reg, auth, httpapi.Config{}, zerolog.Nop())
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, srv.URL
}

func doBasic(t *testing.T, method, url, user, pass string, body string) *http.Response {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.SetBasicAuth(user, pass)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func doBearer(t *testing.T, method, url, token string, body string) *http.Response {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthNoAuth(t *testing.T) {
	_, base := newTestServer(t)
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionReuseAcrossRequests(t *testing.T) {
	_, base := newTestServer(t)

	resp1 := doBasic(t, http.MethodGet, base+"/admin/caches", "admin", "admin123", "")
	defer resp1.Body.Close()
	require.Equal(t, http.StatusOK, resp1.StatusCode)
	require.Equal(t, "false", resp1.Header.Get("x-session-reused"))
	token := resp1.Header.Get("x-session-token")
	require.NotEmpty(t, token)

	resp2 := doBasic(t, http.MethodGet, base+"/admin/caches", "admin", "admin123", "")
	defer resp2.Body.Close()
	require.Equal(t, "true", resp2.Header.Get("x-session-reused"))
	require.Equal(t, token, resp2.Header.Get("x-session-token"))

	resp3 := doBearer(t, http.MethodGet, base+"/admin/caches", token, "")
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestCreateListDescribeDeleteCache(t *testing.T) {
	_, base := newTestServer(t)

	createBody := `{"name":"c1","eviction":"lru","mem_bytes":1048576}`
	resp := doBasic(t, http.MethodPost, base+"/admin/caches", "admin", "admin123", createBody)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp := doBasic(t, http.MethodGet, base+"/admin/caches", "admin", "admin123", "")
	defer listResp.Body.Close()
	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list, 1)

	descResp := doBasic(t, http.MethodGet, base+"/admin/caches/c1", "admin", "admin123", "")
	defer descResp.Body.Close()
	require.Equal(t, http.StatusOK, descResp.StatusCode)

	delResp := doBasic(t, http.MethodDelete, base+"/admin/caches/c1", "admin", "admin123", "")
	defer delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getAfterDelete := doBasic(t, http.MethodGet, base+"/admin/caches/c1", "admin", "admin123", "")
	defer getAfterDelete.Body.Close()
	require.Equal(t, http.StatusNotFound, getAfterDelete.StatusCode)
}

func TestPutGetDeleteKey(t *testing.T) {
	_, base := newTestServer(t)
	createResp := doBasic(t, http.MethodPost, base+"/admin/caches", "admin", "admin123", `{"name":"c1","eviction":"lru","mem_bytes":1048576}`)
	createResp.Body.Close()
	require.Equal(t, http.StatusCreated, createResp.StatusCode)

	putResp := doBasic(t, http.MethodPut, base+"/cache/c1/foo", "admin", "admin123", `{"value":"bar"}`)
	defer putResp.Body.Close()
	require.Equal(t, http.StatusCreated, putResp.StatusCode)

	getResp := doBasic(t, http.MethodGet, base+"/cache/c1/foo", "admin", "admin123", "")
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&body))
	require.Equal(t, "bar", body["value"])

	delResp := doBasic(t, http.MethodDelete, base+"/cache/c1/foo", "admin", "admin123", "")
	defer delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	missResp := doBasic(t, http.MethodGet, base+"/cache/c1/foo", "admin", "admin123", "")
	defer missResp.Body.Close()
	require.Equal(t, http.StatusNotFound, missResp.StatusCode)
}

func TestNonAdminCannotCreateCache(t *testing.T) {
	clk := clock.System{}
	reg := registry.New(clk, zerolog.Nop())
	auth := authcache.New(authcache.Config{
		ServerSecret: []byte("s"),
		Argon:        authcache.ArgonParams{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 16},
	}, clk, zerolog.Nop())
	t.Cleanup(auth.Close)
	require.NoError(t, auth.AddPrincipal("bob", "pw", authcache.RoleUser))

	srv := httptest.NewServer(httpapi.NewRouter(reg, auth, httpapi.Config{}, zerolog.Nop()))
	t.Cleanup(srv.Close)

	resp := doBasic(t, http.MethodPost, srv.URL+"/admin/caches", "bob", "pw", `{"name":"c1","eviction":"lru","mem_bytes":1024}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	_, base := newTestServer(t)
	resp, err := http.Get(base + "/admin/caches")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginEndpointReturnsToken(t *testing.T) {
	_, base := newTestServer(t)
	resp := doBasic(t, http.MethodPost, base+"/auth/login", "admin", "admin123", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["token"])
}

func TestLogoutRevokesToken(t *testing.T) {
	_, base := newTestServer(t)
	loginResp := doBasic(t, http.MethodPost, base+"/auth/login", "admin", "admin123", "")
	var body map[string]string
	require.NoError(t, json.NewDecoder(loginResp.Body).Decode(&body))
	loginResp.Body.Close()
	token := body["token"]

	logoutResp := doBearer(t, http.MethodPost, base+"/auth/logout", token, "")
	defer logoutResp.Body.Close()
	require.Equal(t, http.StatusOK, logoutResp.StatusCode)

	afterResp := doBearer(t, http.MethodGet, base+"/admin/caches", token, "")
	defer afterResp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, afterResp.StatusCode)
}
