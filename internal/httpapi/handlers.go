package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carbondb/carbon/internal/cachecore"
	"github.com/carbondb/carbon/internal/carbonerr"
	"github.com/carbondb/carbon/internal/policy"
	"github.com/carbondb/carbon/internal/registry"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		var body loginRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, carbonerr.New(carbonerr.InvalidArgument, "malformed login body"))
			return
		}
		username, password = body.Username, body.Password
	}
	token, reused, err := a.auth.Login(r.Context(), username, password)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("x-session-token", token)
	w.Header().Set("x-session-reused", boolString(reused))
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		writeError(w, carbonerr.New(carbonerr.Unauthorized, "missing bearer token"))
		return
	}
	token := auth[len(prefix):]
	if err := a.auth.Logout(token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// cacheDescription is the JSON shape returned for a namespace, per
// spec §6's create/list/describe responses.
type cacheDescription struct {
	Name            string             `json:"name"`
	Eviction        string             `json:"eviction"`
	MemBytesBudget  int64              `json:"mem_bytes"`
	DiskBytesBudget int64              `json:"disk_bytes"`
	DefaultTTLMs    int64              `json:"default_ttl_ms"`
	CreatedAtMillis int64              `json:"created_at_ms"`
	Stats           cachecore.Stats    `json:"stats"`
	Latencies       cachecore.Latencies `json:"latencies"`
}

func toCacheDescription(d cachecore.Description) cacheDescription {
	return cacheDescription{
		Name:            d.Name,
		Eviction:        string(d.Policy),
		MemBytesBudget:  d.MemBytesBudget,
		DiskBytesBudget: d.DiskBytesBudget,
		DefaultTTLMs:    d.DefaultTTLMillis,
		CreatedAtMillis: d.CreatedAtMillis,
		Stats:           d.Stats,
		Latencies:       d.Latencies,
	}
}

type createCacheRequest struct {
	Name         string `json:"name"`
	Eviction     string `json:"eviction"`
	MemBytes     int64  `json:"mem_bytes"`
	DiskBytes    int64  `json:"disk_bytes,omitempty"`
	DefaultTTLMs int64  `json:"default_ttl_ms,omitempty"`
	OverflowDir  string `json:"overflow_dir,omitempty"`
}

func (a *API) handleCreateCache(w http.ResponseWriter, r *http.Request) {
	var body createCacheRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, carbonerr.New(carbonerr.InvalidArgument, "malformed cache spec"))
		return
	}
	if body.DiskBytes > 0 && body.OverflowDir == "" {
		writeError(w, carbonerr.New(carbonerr.InvalidArgument, "disk_bytes requires overflow_dir"))
		return
	}
	c, err := a.reg.Create(registry.Spec{
		Name:             body.Name,
		Policy:           policy.Name(body.Eviction),
		MemBytesBudget:   body.MemBytes,
		DiskBytesBudget:  body.DiskBytes,
		DefaultTTLMillis: body.DefaultTTLMs,
		OverflowDir:      body.OverflowDir,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCacheDescription(c.Describe()))
}

func (a *API) handleListCaches(w http.ResponseWriter, r *http.Request) {
	descriptions := a.reg.List()
	out := make([]cacheDescription, 0, len(descriptions))
	for _, d := range descriptions {
		out = append(out, toCacheDescription(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleDescribeCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	desc, err := a.reg.Describe(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCacheDescription(desc))
}

func (a *API) handleDeleteCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.reg.Delete(name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type putKeyRequest struct {
	Value string `json:"value"`
	TTLMs *int64 `json:"ttl_ms,omitempty"`
}

func (a *API) handlePutKey(w http.ResponseWriter, r *http.Request) {
	name, key := chi.URLParam(r, "name"), chi.URLParam(r, "key")
	c, err := a.reg.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	var body putKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, carbonerr.New(carbonerr.InvalidArgument, "malformed put body"))
		return
	}
	result, err := c.Put(key, []byte(body.Value), body.TTLMs)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if result == cachecore.Inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]string{"status": "ok"})
}

func (a *API) handleGetKey(w http.ResponseWriter, r *http.Request) {
	name, key := chi.URLParam(r, "name"), chi.URLParam(r, "key")
	c, err := a.reg.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	reader, err := c.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer reader.Close()
	value := readAll(reader)
	writeJSON(w, http.StatusOK, map[string]string{"value": string(value)})
}

func (a *API) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	name, key := chi.URLParam(r, "name"), chi.URLParam(r, "key")
	c, err := a.reg.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.Delete(key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readAll drains a BufferReader into an owned []byte for JSON encoding,
// the one place this front-end pays a copy: the wire body must be a JSON
// string, not a zero-copy slice.
func readAll(r interface{ Read([]byte) (int, error) }) []byte {
	out := make([]byte, 0, 64)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out
		}
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
