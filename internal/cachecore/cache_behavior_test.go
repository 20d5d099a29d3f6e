package cachecore

import (
	"io"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/carbondb/carbon/internal/carbonerr"
	"github.com/carbondb/carbon/internal/clock"
	"github.com/carbondb/carbon/internal/policy"
)

var _ = Describe("Cache", func() {
	var (
		fake *clock.Fake
		c    *Cache
	)

	newCacheWithBudget := func(budget int64, pol policy.Name) *Cache {
		cache, err := New(Config{Name: "t", Policy: pol, MemBytesBudget: budget}, fake, zerolog.Nop())
		Expect(err).NotTo(HaveOccurred())
		return cache
	}

	BeforeEach(func() {
		fake = clock.NewFake(time.Unix(1_700_000_000, 0))
	})

	AfterEach(func() {
		if c != nil {
			c.Close()
		}
	})

	Context("memory budget", func() {
		BeforeEach(func() {
			// Each 16-byte value costs entry.OverheadPerEntry (64) plus the
			// 1-byte key on top, so two entries fit comfortably under 200
			// and a third forces an eviction.
			c = newCacheWithBudget(200, policy.LRU)
		})

		It("evicts the least recently used entry once over budget", func() {
			_, err := c.Put("a", make([]byte, 16), nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Put("b", make([]byte, 16), nil)
			Expect(err).NotTo(HaveOccurred())

			// touch a so b becomes the LRU victim
			r, err := c.Get("a")
			Expect(err).NotTo(HaveOccurred())
			r.Close()

			_, err = c.Put("c", make([]byte, 16), nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Get("b")
			Expect(carbonerr.Is(err, carbonerr.NotFound)).To(BeTrue())

			_, err = c.Get("a")
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Get("c")
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a value larger than the configured max", func() {
			_, err := c.Put("huge", make([]byte, DefaultMaxValueBytes+1), nil)
			Expect(carbonerr.Is(err, carbonerr.InvalidArgument)).To(BeTrue())
		})
	})

	Context("insufficient capacity", func() {
		BeforeEach(func() {
			// No overflow configured, so a PUT that can't fit in 250 bytes
			// even after evicting everything else must fail outright.
			c = newCacheWithBudget(250, policy.LRU)
		})

		It("never evicts the entry it is trying to insert", func() {
			_, err := c.Put("huge", make([]byte, 300), nil)
			Expect(carbonerr.Is(err, carbonerr.InsufficientCapacity)).To(BeTrue())

			_, err = c.Get("huge")
			Expect(carbonerr.Is(err, carbonerr.NotFound)).To(BeTrue())

			stats := c.Stats()
			Expect(stats.Evictions).To(BeEquivalentTo(0))
		})

		It("leaves pre-existing entries untouched when a later PUT can't fit", func() {
			_, err := c.Put("a", []byte("original-value!!"), nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Put("huge", make([]byte, 300), nil)
			Expect(carbonerr.Is(err, carbonerr.InsufficientCapacity)).To(BeTrue())

			r, err := c.Get("a")
			Expect(err).NotTo(HaveOccurred())
			data, err := io.ReadAll(r)
			r.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("original-value!!"))

			_, err = c.Get("huge")
			Expect(carbonerr.Is(err, carbonerr.NotFound)).To(BeTrue())
		})

		It("restores the original value when an oversized replace can't fit", func() {
			_, err := c.Put("a", []byte("original-value!!"), nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Put("a", make([]byte, 300), nil)
			Expect(carbonerr.Is(err, carbonerr.InsufficientCapacity)).To(BeTrue())

			r, err := c.Get("a")
			Expect(err).NotTo(HaveOccurred())
			data, err := io.ReadAll(r)
			r.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("original-value!!"))
		})
	})

	Context("TTL expiry", func() {
		BeforeEach(func() {
			c = newCacheWithBudget(1<<20, policy.TTL)
		})

		It("reports a get miss once the deadline has passed", func() {
			ttl := int64(1000)
			_, err := c.Put("k", []byte("v"), &ttl)
			Expect(err).NotTo(HaveOccurred())

			fake.Advance(2 * time.Second)

			_, err = c.Get("k")
			Expect(carbonerr.Is(err, carbonerr.NotFound)).To(BeTrue())
		})
	})

	Context("disk overflow", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "carbon-overflow-*")
			Expect(err).NotTo(HaveOccurred())
			cache, err := New(Config{
				Name:   "t",
				Policy: policy.LRU,
				// One 32-byte entry fits (97 bytes with overhead); a
				// second forces the first out to disk.
				MemBytesBudget:  150,
				DiskBytesBudget: 1 << 20,
				OverflowDir:     dir,
			}, fake, zerolog.Nop())
			Expect(err).NotTo(HaveOccurred())
			c = cache
		})

		AfterEach(func() {
			os.RemoveAll(dir)
		})

		It("spills an evicted entry to disk and serves it back on get", func() {
			_, err := c.Put("a", make([]byte, 32), nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Put("b", make([]byte, 32), nil)
			Expect(err).NotTo(HaveOccurred())

			r, err := c.Get("a")
			Expect(err).NotTo(HaveOccurred())
			defer r.Close()

			stats := c.Stats()
			Expect(stats.OverflowsIn).To(BeEquivalentTo(1))
		})
	})
})
