package registry

import (
	"github.com/rs/zerolog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/carbondb/carbon/internal/carbonerr"
	"github.com/carbondb/carbon/internal/clock"
	"github.com/carbondb/carbon/internal/policy"
)

var _ = Describe("Registry", func() {
	var r *Registry

	BeforeEach(func() {
		r = New(clock.System{}, zerolog.Nop())
	})

	AfterEach(func() {
		r.Shutdown()
	})

	baseSpec := func(name string) Spec {
		return Spec{Name: name, Policy: policy.LRU, MemBytesBudget: 4096}
	}

	It("creates a cache and makes it visible to Get/List/Describe", func() {
		_, err := r.Create(baseSpec("sessions"))
		Expect(err).NotTo(HaveOccurred())

		c, err := r.Get("sessions")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).NotTo(BeNil())

		descs := r.List()
		Expect(descs).To(HaveLen(1))
		Expect(descs[0].Name).To(Equal("sessions"))

		d, err := r.Describe("sessions")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Policy).To(Equal(policy.LRU))
	})

	It("refuses a second cache with the same name", func() {
		_, err := r.Create(baseSpec("dup"))
		Expect(err).NotTo(HaveOccurred())

		_, err = r.Create(baseSpec("dup"))
		Expect(carbonerr.Is(err, carbonerr.AlreadyExists)).To(BeTrue())
	})

	It("rejects a malformed name before touching the map", func() {
		_, err := r.Create(baseSpec("has a space"))
		Expect(carbonerr.Is(err, carbonerr.InvalidArgument)).To(BeTrue())
		Expect(r.Len()).To(Equal(0))
	})

	It("hides a deleted cache from Get and List but keeps prior handles alive", func() {
		c, err := r.Create(baseSpec("ephemeral"))
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Put("k", []byte("v"), nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(r.Delete("ephemeral")).To(Succeed())

		_, err = r.Get("ephemeral")
		Expect(carbonerr.Is(err, carbonerr.NotFound)).To(BeTrue())
		Expect(r.List()).To(BeEmpty())

		reader, err := c.Get("k")
		Expect(err).NotTo(HaveOccurred())
		reader.Close()
	})

	It("reports NotFound deleting a name that was never created", func() {
		err := r.Delete("ghost")
		Expect(carbonerr.Is(err, carbonerr.NotFound)).To(BeTrue())
	})
})
