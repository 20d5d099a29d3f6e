// Package authcache implements the AuthCache & Sessions component
// (spec §4.6): credential verification, session issuance, and
// token-to-principal resolution, with TTL-bounded caching of the
// expensive password-hash result.
//
// The teacher has no authentication at all, so this subsystem is new;
// its single-flight collapse and background sweep follow the same
// "dedicated goroutine, cooperative lock discipline" shape the teacher
// uses for AOF.startSync (aof/aof.go) and this module's own cachecore
// sweep.
package authcache

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/singleflight"

	"github.com/carbondb/carbon/internal/carbonerr"
	"github.com/carbondb/carbon/internal/clock"
)

// Argon2 work factor, configurable at construction (spec §4.6: "work
// factor configurable"). These defaults follow the IDKey-recommended
// baseline for an interactive login path.
const (
	DefaultArgonTime    = 1
	DefaultArgonMemory  = 64 * 1024 // KiB
	DefaultArgonThreads = 4
	DefaultArgonKeyLen  = 32
)

// ArgonParams tunes the slow verifier's work factor.
type ArgonParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

func (p ArgonParams) orDefaults() ArgonParams {
	if p.Time == 0 {
		p.Time = DefaultArgonTime
	}
	if p.Memory == 0 {
		p.Memory = DefaultArgonMemory
	}
	if p.Threads == 0 {
		p.Threads = DefaultArgonThreads
	}
	if p.KeyLen == 0 {
		p.KeyLen = DefaultArgonKeyLen
	}
	return p
}

// Role distinguishes the one admin principal from ordinary ones, per
// spec §9's deliberately-deferred multi-tenant ACLs: two values, admin and
// user, cover the admin/non-admin split.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// principal is one entry in the credential table, keyed by username.
type principal struct {
	username string
	salt     []byte
	hash     []byte
	role     Role
}

// Session is an authenticated principal handle (spec §3's Session type).
type Session struct {
	ID             string
	Token          string
	Principal      string
	Role           Role
	Fingerprint    string
	IssuedAtMillis int64
	ExpiresAtMillis int64 // absolute TTL deadline
	mu             sync.Mutex
	lastUsedMillis int64
}

func (s *Session) touch(nowMillis int64) {
	s.mu.Lock()
	s.lastUsedMillis = nowMillis
	s.mu.Unlock()
}

func (s *Session) lastUsed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedMillis
}

// AuthCache is the process-wide credential/session engine (spec §9: "an
// explicit context handle rather than an ambient global", so callers
// construct and wire one explicitly rather than reaching for a package
// singleton).
type AuthCache struct {
	secret []byte
	params ArgonParams
	clock  clock.Clock
	log    zerolog.Logger

	idleTTLMillis int64
	absTTLMillis  int64

	principalsMu sync.RWMutex
	principals   map[string]*principal

	sessionsMu    sync.Mutex
	byToken       map[string]*Session
	byFingerprint map[string]*Session

	flight singleflight.Group

	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

// Config carries the construction-time parameters of an AuthCache.
type Config struct {
	ServerSecret  []byte
	IdleTTL       time.Duration
	AbsoluteTTL   time.Duration
	Argon         ArgonParams
	SweepInterval time.Duration
}

const (
	DefaultIdleTTL     = 30 * time.Minute
	DefaultAbsoluteTTL = 24 * time.Hour
	defaultSweepEvery  = 30 * time.Second
)

// New builds an AuthCache with no principals registered; call AddPrincipal
// to seed the admin account (and any others) before serving traffic.
func New(cfg Config, clk clock.Clock, log zerolog.Logger) *AuthCache {
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.AbsoluteTTL == 0 {
		cfg.AbsoluteTTL = DefaultAbsoluteTTL
	}
	sweepEvery := cfg.SweepInterval
	if sweepEvery == 0 {
		sweepEvery = defaultSweepEvery
	}

	a := &AuthCache{
		secret:        cfg.ServerSecret,
		params:        cfg.Argon.orDefaults(),
		clock:         clk,
		log:           log.With().Str("component", "authcache").Logger(),
		idleTTLMillis: cfg.IdleTTL.Milliseconds(),
		absTTLMillis:  cfg.AbsoluteTTL.Milliseconds(),
		principals:    make(map[string]*principal),
		byToken:       make(map[string]*Session),
		byFingerprint: make(map[string]*Session),
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.stopSweep = cancel
	a.sweepDone = make(chan struct{})
	go a.sweepLoop(ctx, sweepEvery)
	return a
}

// Close stops the session sweep goroutine.
func (a *AuthCache) Close() {
	a.stopSweep()
	<-a.sweepDone
}

// AddPrincipal registers (or replaces) a username/password pair, hashing
// the password with Argon2 up front so verifySlow never touches the
// plaintext password at request time beyond the hash comparison.
func (a *AuthCache) AddPrincipal(username, password string, role Role) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return carbonerr.Wrap(carbonerr.Internal, err)
	}
	hash := argon2.IDKey([]byte(password), salt, a.params.Time, a.params.Memory, a.params.Threads, a.params.KeyLen)
	a.principalsMu.Lock()
	a.principals[username] = &principal{username: username, salt: salt, hash: hash, role: role}
	a.principalsMu.Unlock()
	return nil
}

func (a *AuthCache) fingerprint(username, password string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(username))
	mac.Write([]byte{0x00})
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySlow runs the Argon2 comparison against the stored principal.
// This is the cost AuthenticateBasic amortizes via single-flight plus the
// fingerprint-keyed session cache.
func (a *AuthCache) verifySlow(username, password string) (*principal, error) {
	a.principalsMu.RLock()
	p, ok := a.principals[username]
	a.principalsMu.RUnlock()
	if !ok {
		return nil, carbonerr.New(carbonerr.Unauthorized, "unknown principal")
	}
	candidate := argon2.IDKey([]byte(password), p.salt, a.params.Time, a.params.Memory, a.params.Threads, a.params.KeyLen)
	if subtle.ConstantTimeCompare(candidate, p.hash) != 1 {
		return nil, carbonerr.New(carbonerr.Unauthorized, "credential mismatch")
	}
	return p, nil
}

// AuthenticateBasic resolves a username/password pair to a Session,
// reusing an existing one for the same fingerprint when still valid,
// otherwise running the slow verifier exactly once even under concurrent
// identical requests (spec §4.6's single-flight requirement).
func (a *AuthCache) AuthenticateBasic(ctx context.Context, username, password string) (sess *Session, reused bool, err error) {
	fp := a.fingerprint(username, password)

	a.sessionsMu.Lock()
	if existing, ok := a.byFingerprint[fp]; ok && !a.expired(existing) {
		a.sessionsMu.Unlock()
		existing.touch(a.clock.Millis())
		return existing, true, nil
	}
	a.sessionsMu.Unlock()

	type flightResult struct {
		session *Session
		minted  bool
	}

	v, err, _ := a.flight.Do(fp, func() (interface{}, error) {
		// Re-check under the single-flight key: another goroutine may have
		// just published a session for this fingerprint while we were
		// queued behind the flight group (not the map lock), closing the
		// thundering-herd window spec §4.6 calls out.
		a.sessionsMu.Lock()
		if existing, ok := a.byFingerprint[fp]; ok && !a.expired(existing) {
			a.sessionsMu.Unlock()
			return flightResult{session: existing, minted: false}, nil
		}
		a.sessionsMu.Unlock()

		p, verr := a.verifySlow(username, password)
		if verr != nil {
			return nil, verr
		}
		return flightResult{session: a.issue(p, fp), minted: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	result := v.(flightResult)
	result.session.touch(a.clock.Millis())
	return result.session, !result.minted, nil
}

// issue mints a new Session for principal p under fingerprint fp and
// publishes it in both indices. Called with no lock held; takes
// sessionsMu itself.
func (a *AuthCache) issue(p *principal, fp string) *Session {
	now := a.clock.Millis()
	token := newToken()
	sess := &Session{
		ID:              uuid.NewString(),
		Token:           token,
		Principal:       p.username,
		Role:            p.role,
		Fingerprint:     fp,
		IssuedAtMillis:  now,
		ExpiresAtMillis: now + a.absTTLMillis,
		lastUsedMillis:  now,
	}
	a.sessionsMu.Lock()
	a.byToken[token] = sess
	a.byFingerprint[fp] = sess
	a.sessionsMu.Unlock()
	return sess
}

// AuthenticateBearer resolves a previously issued session token.
func (a *AuthCache) AuthenticateBearer(token string) (*Session, error) {
	a.sessionsMu.Lock()
	sess, ok := a.byToken[token]
	a.sessionsMu.Unlock()
	if !ok || a.expired(sess) {
		return nil, carbonerr.New(carbonerr.Unauthorized, "invalid or expired session token")
	}
	sess.touch(a.clock.Millis())
	return sess, nil
}

// Login is the explicit login endpoint: same resolution as
// AuthenticateBasic, returning the token and the reused flag instead of
// the Session.
func (a *AuthCache) Login(ctx context.Context, username, password string) (token string, reused bool, err error) {
	sess, reused, err := a.AuthenticateBasic(ctx, username, password)
	if err != nil {
		return "", false, err
	}
	return sess.Token, reused, nil
}

// Logout revokes a token immediately, removing it from both indices
// atomically (spec §4.6).
func (a *AuthCache) Logout(token string) error {
	a.sessionsMu.Lock()
	sess, ok := a.byToken[token]
	if ok {
		delete(a.byToken, token)
		delete(a.byFingerprint, sess.Fingerprint)
	}
	a.sessionsMu.Unlock()
	if !ok {
		return carbonerr.New(carbonerr.NotFound, "session not found")
	}
	return nil
}

func (a *AuthCache) expired(s *Session) bool {
	now := a.clock.Millis()
	if now >= s.ExpiresAtMillis {
		return true
	}
	return now-s.lastUsed() >= a.idleTTLMillis
}

func newToken() string {
	buf := make([]byte, 32) // 256 bits, spec §3.
	if _, err := rand.Read(buf); err != nil {
		panic("authcache: failed to read random token bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// sweepLoop periodically evicts idle/absolute-expired sessions (spec
// §4.6: "a background task evicts expired sessions"), the same ticker
// idiom as cachecore's sweep.
func (a *AuthCache) sweepLoop(ctx context.Context, every time.Duration) {
	defer close(a.sweepDone)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepTick()
		}
	}
}

func (a *AuthCache) sweepTick() {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()
	for token, sess := range a.byToken {
		if a.expired(sess) {
			delete(a.byToken, token)
			delete(a.byFingerprint, sess.Fingerprint)
		}
	}
}
