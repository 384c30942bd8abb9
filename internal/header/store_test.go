package header_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/bookstore-proxy/internal/header"
)

var _ = Describe("Store", func() {
	var (
		h     http.Header
		store *header.Store
	)

	BeforeEach(func() {
		h = http.Header{}
		h.Set("Content-Type", "text/plain")
		h.Add("Location", "http://backend:8080/orders/1")
		h.Add("Location", "http://backend:8080/orders/2")
		store = header.NewStore(h)
	})

	Describe("Find", func() {
		It("should return the first value for an exact name", func() {
			e, ok := store.Find("Location")
			Expect(ok).To(BeTrue())
			Expect(e.Name()).To(Equal("Location"))
			Expect(e.Value()).To(Equal("http://backend:8080/orders/1"))
		})

		It("should not fold case", func() {
			_, ok := store.Find("location")
			Expect(ok).To(BeFalse())

			_, ok = store.Find("LOCATION")
			Expect(ok).To(BeFalse())
		})

		It("should report missing names", func() {
			_, ok := store.Find("X-Missing")
			Expect(ok).To(BeFalse())
			Expect(store.Has("X-Missing")).To(BeFalse())
		})

		It("should treat a name with no values as missing", func() {
			h["Location"] = nil
			_, ok := store.Find("Location")
			Expect(ok).To(BeFalse())
		})

		It("should handle nil stores and maps", func() {
			var s *header.Store
			_, ok := s.Find("Location")
			Expect(ok).To(BeFalse())
			Expect(s.Len()).To(Equal(0))

			_, ok = header.NewStore(nil).Find("Location")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("SetValue", func() {
		It("should mutate the wrapped map in place", func() {
			e, _ := store.Find("Location")
			e.SetValue("https://proxy/orders/1")

			Expect(h["Location"]).To(Equal([]string{"https://proxy/orders/1", "http://backend:8080/orders/2"}))
			Expect(h.Get("Content-Type")).To(Equal("text/plain"))
			Expect(store.Len()).To(Equal(2))
		})

		It("should be visible through later lookups", func() {
			e, _ := store.Find("Location")
			e.SetValue("/relative")

			again, ok := store.Find("Location")
			Expect(ok).To(BeTrue())
			Expect(again.Value()).To(Equal("/relative"))
		})
	})

	Describe("Replace", func() {
		It("should replace an existing value", func() {
			Expect(store.Replace("Content-Type", "application/json")).To(BeTrue())
			Expect(h.Get("Content-Type")).To(Equal("application/json"))
		})

		It("should not create absent entries", func() {
			Expect(store.Replace("X-Missing", "v")).To(BeFalse())
			Expect(h).NotTo(HaveKey("X-Missing"))
		})
	})
})
