package registry

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// TestRegistry bootstraps the Ginkgo suite, mirroring the bootstrap shape
// used for the cache behavioral suite (internal/cachecore).
func TestRegistry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Registry Suite")
}
