// Package overflow implements the DiskOverflow component (spec §4.3, §6):
// a secondary, byte-budgeted, TTL-aware tier on the filesystem for entries
// evicted from memory but still addressable.
//
// Durability pattern (write-then-rename) and streaming I/O are adapted from
// the teacher's aof package, whose AOF.startRotate writes a full snapshot
// to a temp file and atomically os.Rename's it into place (aof.go). Here
// every key gets its own file instead of one shared append log, since the
// spec calls for per-key addressability rather than a replay log.
package overflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/carbondb/carbon/internal/carbonerr"
)

// Record is the metadata the in-memory index keeps per disk-tier key,
// mirroring spec §3's Entry fields that remain meaningful once bytes leave
// memory.
type Record struct {
	SizeBytes       int64
	CreatedAtMillis int64
	TTLMillis       int64
}

// Expired reports whether the record's TTL has elapsed by nowMillis.
func (r Record) Expired(nowMillis int64) bool {
	return r.TTLMillis != 0 && nowMillis-r.CreatedAtMillis >= r.TTLMillis
}

// header is the JSON preamble written ahead of key+value bytes in each
// overflow file, per spec §6's persisted state layout.
type header struct {
	TTLMillis int64 `json:"ttl_ms"`
	CreatedAt int64 `json:"created_at"`
	KeyLen    int   `json:"key_len"`
	ValueLen  int   `json:"value_len"`
}

// Overflow is one namespace's disk tier.
type Overflow struct {
	dir    string
	budget int64
	log    zerolog.Logger

	mu    sync.Mutex
	used  int64
	index map[string]Record
}

// Open ensures dir exists and returns an Overflow ready to serve, with its
// index populated by a best-effort background rebuild (spec §4.3, §9 Open
// Questions — this implementation chooses rebuild over discard; see
// DESIGN.md). The returned Overflow is usable immediately; rebuild runs
// concurrently and entries it finds become visible as it walks the
// directory, so callers don't block cache availability on a cold start
// with a large overflow directory.
func Open(dir string, budgetBytes int64, log zerolog.Logger) (*Overflow, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, carbonerr.Wrap(carbonerr.IoError, errors.Wrap(err, "overflow: create dir"))
	}
	o := &Overflow{
		dir:    dir,
		budget: budgetBytes,
		log:    log,
		index:  make(map[string]Record),
	}
	go o.rebuild()
	return o, nil
}

func (o *Overflow) rebuild() {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		o.log.Warn().Err(err).Str("dir", o.dir).Msg("overflow: rebuild scan failed, starting empty")
		return
	}
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) == ".tmp" {
			continue
		}
		o.reindexFile(filepath.Join(o.dir, de.Name()))
	}
}

func (o *Overflow) reindexFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		o.log.Warn().Err(err).Str("path", path).Msg("overflow: rebuild open failed")
		return
	}
	defer f.Close()
	h, key, _, err := readHeaderAndKey(f)
	if err != nil {
		o.log.Warn().Err(err).Str("path", path).Msg("overflow: rebuild skipping unreadable entry")
		return
	}
	rec := Record{SizeBytes: int64(len(key)) + int64(h.ValueLen) + 64, CreatedAtMillis: h.CreatedAt, TTLMillis: h.TTLMillis}
	o.mu.Lock()
	if _, exists := o.index[key]; !exists {
		o.index[key] = rec
		o.used += rec.SizeBytes
	}
	o.mu.Unlock()
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (o *Overflow) path(key string) string {
	return filepath.Join(o.dir, fileName(key))
}

// HasRoom reports whether n more bytes fit under budget.
func (o *Overflow) HasRoom(n int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.used+n <= o.budget
}

// UsedBytes returns current disk-tier usage.
func (o *Overflow) UsedBytes() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.used
}

// Put writes key/value to disk via a temp-file-then-rename, then publishes
// it in the index. Callers must not hold the owning Cache's lock while
// calling Put — this does real file I/O (spec §5's two-phase commit: the
// Cache computes what to write while locked, calls Put unlocked, then
// re-locks to commit the accounting change).
func (o *Overflow) Put(key string, value []byte, createdAtMillis, ttlMillis int64) (Record, error) {
	rec := Record{SizeBytes: int64(len(key)) + int64(len(value)) + 64, CreatedAtMillis: createdAtMillis, TTLMillis: ttlMillis}

	tmp, err := os.CreateTemp(o.dir, "overflow-*.tmp")
	if err != nil {
		return Record{}, carbonerr.Wrap(carbonerr.IoError, errors.Wrap(err, "overflow: create temp file"))
	}
	tmpName := tmp.Name()
	if err := writeEntry(tmp, header{TTLMillis: ttlMillis, CreatedAt: createdAtMillis, KeyLen: len(key), ValueLen: len(value)}, key, value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Record{}, carbonerr.Wrap(carbonerr.IoError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Record{}, carbonerr.Wrap(carbonerr.IoError, errors.Wrap(err, "overflow: sync temp file"))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Record{}, carbonerr.Wrap(carbonerr.IoError, errors.Wrap(err, "overflow: close temp file"))
	}
	if err := os.Rename(tmpName, o.path(key)); err != nil {
		os.Remove(tmpName)
		return Record{}, carbonerr.Wrap(carbonerr.IoError, errors.Wrap(err, "overflow: rename into place"))
	}

	o.mu.Lock()
	if old, existed := o.index[key]; existed {
		o.used -= old.SizeBytes
	}
	o.index[key] = rec
	o.used += rec.SizeBytes
	o.mu.Unlock()
	return rec, nil
}

// Get reads key's value back from disk. ok=false means the key has no
// disk record, or its file has gone missing (the record is then dropped).
// Get does not check TTL: an expired record is returned with ok=true, and
// callers check rec.Expired themselves.
func (o *Overflow) Get(key string) (value []byte, rec Record, ok bool, err error) {
	o.mu.Lock()
	rec, ok = o.index[key]
	o.mu.Unlock()
	if !ok {
		return nil, Record{}, false, nil
	}

	f, ferr := os.Open(o.path(key))
	if ferr != nil {
		if os.IsNotExist(ferr) {
			// File missing underneath the index: tolerate, per spec §4.3.
			o.forget(key, rec)
			return nil, Record{}, false, nil
		}
		return nil, Record{}, false, carbonerr.Wrap(carbonerr.IoError, errors.Wrap(ferr, "overflow: open"))
	}
	defer f.Close()
	h, _, value, rerr := readHeaderAndKey(f)
	if rerr != nil {
		return nil, Record{}, false, carbonerr.Wrap(carbonerr.IoError, errors.Wrap(rerr, "overflow: read"))
	}
	rec = Record{SizeBytes: rec.SizeBytes, CreatedAtMillis: h.CreatedAt, TTLMillis: h.TTLMillis}
	return value, rec, true, nil
}

// Delete removes key's file, tolerating an already-missing file (spec §4.3).
func (o *Overflow) Delete(key string) (existed bool, err error) {
	o.mu.Lock()
	rec, ok := o.index[key]
	if ok {
		delete(o.index, key)
		o.used -= rec.SizeBytes
	}
	o.mu.Unlock()
	if !ok {
		return false, nil
	}
	if rmErr := os.Remove(o.path(key)); rmErr != nil && !os.IsNotExist(rmErr) {
		return true, carbonerr.Wrap(carbonerr.IoError, errors.Wrap(rmErr, "overflow: delete"))
	}
	return true, nil
}

// Has reports whether key currently has a disk-tier record, without
// touching the filesystem.
func (o *Overflow) Has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.index[key]
	return ok
}

func (o *Overflow) forget(key string, rec Record) {
	o.mu.Lock()
	if cur, ok := o.index[key]; ok && cur == rec {
		delete(o.index, key)
		o.used -= rec.SizeBytes
	}
	o.mu.Unlock()
}

func writeEntry(w io.Writer, h header, key string, value []byte) error {
	hb, err := json.Marshal(h)
	if err != nil {
		return errors.Wrap(err, "overflow: marshal header")
	}
	if len(hb) > 0xFFFF {
		return errors.New("overflow: header too large")
	}
	var lenBuf [2]byte
	lenBuf[0] = byte(len(hb) >> 8)
	lenBuf[1] = byte(len(hb))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "overflow: write header length")
	}
	if _, err := w.Write(hb); err != nil {
		return errors.Wrap(err, "overflow: write header")
	}
	if _, err := io.WriteString(w, key); err != nil {
		return errors.Wrap(err, "overflow: write key")
	}
	if _, err := w.Write(value); err != nil {
		return errors.Wrap(err, "overflow: write value")
	}
	return nil
}

func readHeaderAndKey(r io.Reader) (h header, key string, value []byte, err error) {
	var lenBuf [2]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return
	}
	headerLen := int(lenBuf[0])<<8 | int(lenBuf[1])
	hb := make([]byte, headerLen)
	if _, err = io.ReadFull(r, hb); err != nil {
		return
	}
	if err = json.Unmarshal(hb, &h); err != nil {
		return
	}
	kb := make([]byte, h.KeyLen)
	if _, err = io.ReadFull(r, kb); err != nil {
		return
	}
	key = string(kb)
	value = make([]byte, h.ValueLen)
	if _, err = io.ReadFull(r, value); err != nil {
		return
	}
	return
}
