package registry_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/coinpilot/api-gateway/internal/registry"
)

var _ = Describe("Registry", func() {
	var (
		reg *registry.Registry
		log *slog.Logger
	)

	fastProbe := registry.ProbeConfig{
		Timeout:      time.Second,
		MaxAttempts:  5,
		InitialDelay: 20 * time.Millisecond,
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		reg = registry.New(fastProbe, log, nil)
	})

	AfterEach(func() {
		reg.Stop()
	})

	healthyBackend := func() *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
	}

	Describe("Register", func() {
		It("should start unhealthy and become healthy after the initial probe", func() {
			backend := healthyBackend()
			defer backend.Close()

			err := reg.Register(registry.ServiceConfig{
				Name:                "portfolio",
				URL:                 backend.URL,
				HealthCheckInterval: time.Minute,
				Enabled:             true,
			})
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() bool {
				return reg.IsHealthy("portfolio")
			}, "2s", "10ms").Should(BeTrue())
		})

		It("should reject duplicate names", func() {
			backend := healthyBackend()
			defer backend.Close()

			cfg := registry.ServiceConfig{
				Name:    "portfolio",
				URL:     backend.URL,
				Enabled: false,
			}
			Expect(reg.Register(cfg)).To(Succeed())
			Expect(reg.Register(cfg)).To(HaveOccurred())
		})

		It("should reject invalid URLs", func() {
			err := reg.Register(registry.ServiceConfig{
				Name: "broken",
				URL:  "not-a-url",
			})
			Expect(err).To(HaveOccurred())

			err = reg.Register(registry.ServiceConfig{
				Name: "broken",
				URL:  "ftp://example.com",
			})
			Expect(err).To(HaveOccurred())

			err = reg.Register(registry.ServiceConfig{
				Name: "",
				URL:  "http://localhost:9999",
			})
			Expect(err).To(HaveOccurred())
		})

		It("should not probe disabled services", func() {
			var probes atomic.Int32
			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				probes.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer backend.Close()

			Expect(reg.Register(registry.ServiceConfig{
				Name:    "disabled",
				URL:     backend.URL,
				Enabled: false,
			})).To(Succeed())

			Consistently(func() int32 {
				return probes.Load()
			}, "200ms", "50ms").Should(BeZero())
			Expect(reg.IsHealthy("disabled")).To(BeFalse())
		})
	})

	Describe("initial probe sequence", func() {
		It("should mark a late-starting backend healthy as soon as a probe succeeds", func() {
			var calls atomic.Int32
			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				// Answer 2xx only from the 3rd probe on.
				if calls.Add(1) < 3 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer backend.Close()

			start := time.Now()
			Expect(reg.Register(registry.ServiceConfig{
				Name:                "late",
				URL:                 backend.URL,
				HealthCheckInterval: time.Minute,
				Enabled:             true,
			})).To(Succeed())

			Eventually(func() bool {
				return reg.IsHealthy("late")
			}, "2s", "5ms").Should(BeTrue())

			// Two backoff sleeps (20ms + 40ms), well short of the full
			// five-attempt budget (20+40+80+160ms).
			Expect(time.Since(start)).To(BeNumerically("<", 250*time.Millisecond))
			Expect(calls.Load()).To(Equal(int32(3)))
		})

		It("should record the last error after exhausting all attempts", func() {
			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer backend.Close()

			Expect(reg.Register(registry.ServiceConfig{
				Name:                "down",
				URL:                 backend.URL,
				HealthCheckInterval: time.Minute,
				Enabled:             true,
			})).To(Succeed())

			Eventually(func() string {
				for _, h := range reg.AllHealth() {
					if h.Name == "down" {
						return h.LastError
					}
				}
				return ""
			}, "2s", "20ms").Should(ContainSubstring("status 500"))
			Expect(reg.IsHealthy("down")).To(BeFalse())
		})
	})

	Describe("recurring checker", func() {
		It("should observe a regression on the next tick", func() {
			var healthy atomic.Bool
			healthy.Store(true)
			backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if healthy.Load() {
					w.WriteHeader(http.StatusOK)
				} else {
					w.WriteHeader(http.StatusServiceUnavailable)
				}
			}))
			defer backend.Close()

			Expect(reg.Register(registry.ServiceConfig{
				Name:                "flappy",
				URL:                 backend.URL,
				HealthCheckInterval: 50 * time.Millisecond,
				Enabled:             true,
			})).To(Succeed())

			Eventually(func() bool { return reg.IsHealthy("flappy") }, "2s", "10ms").Should(BeTrue())

			healthy.Store(false)
			Eventually(func() bool { return reg.IsHealthy("flappy") }, "2s", "10ms").Should(BeFalse())

			healthy.Store(true)
			Eventually(func() bool { return reg.IsHealthy("flappy") }, "2s", "10ms").Should(BeTrue())
		})
	})

	Describe("ResolveURL", func() {
		It("should return absent before registration", func() {
			_, ok := reg.ResolveURL("portfolio")
			Expect(ok).To(BeFalse())
		})

		It("should resolve a registered service", func() {
			Expect(reg.Register(registry.ServiceConfig{
				Name:    "portfolio",
				URL:     "http://localhost:3001",
				Enabled: false,
			})).To(Succeed())

			u, ok := reg.ResolveURL("portfolio")
			Expect(ok).To(BeTrue())
			Expect(u.String()).To(Equal("http://localhost:3001"))
		})
	})

	Describe("Unregister", func() {
		It("should remove all state and be idempotent", func() {
			Expect(reg.Register(registry.ServiceConfig{
				Name:    "portfolio",
				URL:     "http://localhost:3001",
				Enabled: false,
			})).To(Succeed())

			reg.Unregister("portfolio")
			_, ok := reg.ResolveURL("portfolio")
			Expect(ok).To(BeFalse())

			reg.Unregister("portfolio") // no-op
		})

		It("should allow re-registration with a new URL", func() {
			Expect(reg.Register(registry.ServiceConfig{
				Name:    "portfolio",
				URL:     "http://localhost:3001",
				Enabled: false,
			})).To(Succeed())
			reg.Unregister("portfolio")

			Expect(reg.Register(registry.ServiceConfig{
				Name:    "portfolio",
				URL:     "http://localhost:4001",
				Enabled: false,
			})).To(Succeed())

			u, _ := reg.ResolveURL("portfolio")
			Expect(u.String()).To(Equal("http://localhost:4001"))
		})
	})

	Describe("AllHealth", func() {
		It("should list every registered service sorted by name", func() {
			for _, name := range []string{"risk", "ml", "portfolio"} {
				Expect(reg.Register(registry.ServiceConfig{
					Name:    name,
					URL:     "http://localhost:3001",
					Enabled: false,
				})).To(Succeed())
			}

			health := reg.AllHealth()
			Expect(health).To(HaveLen(3))
			Expect(health[0].Name).To(Equal("ml"))
			Expect(health[1].Name).To(Equal("portfolio"))
			Expect(health[2].Name).To(Equal("risk"))
		})
	})

	Describe("health change notifications", func() {
		It("should fire on transitions only", func() {
			var (
				mu     sync.Mutex
				events []bool
			)
			notified := registry.New(fastProbe, log, func(name string, healthy bool) {
				mu.Lock()
				events = append(events, healthy)
				mu.Unlock()
			})
			defer notified.Stop()

			backend := healthyBackend()
			defer backend.Close()

			Expect(notified.Register(registry.ServiceConfig{
				Name:                "portfolio",
				URL:                 backend.URL,
				HealthCheckInterval: 30 * time.Millisecond,
				Enabled:             true,
			})).To(Succeed())

			Eventually(func() []bool {
				mu.Lock()
				defer mu.Unlock()
				return append([]bool(nil), events...)
			}, "2s", "10ms").Should(Equal([]bool{true}))

			// Healthy ticks after the transition stay silent.
			Consistently(func() int {
				mu.Lock()
				defer mu.Unlock()
				return len(events)
			}, "150ms", "30ms").Should(Equal(1))
		})
	})
})
