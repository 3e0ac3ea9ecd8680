package proxy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/coinpilot/api-gateway/internal/proxy"
)

var _ = Describe("RewriteRule", func() {
	It("should substitute the match prefix with the target prefix", func() {
		rule := proxy.RewriteRule{
			MatchPrefix:  "/api/macro",
			TargetPrefix: "/api/market-data/macro",
		}

		Expect(rule.Apply("/api/macro/global")).To(Equal("/api/market-data/macro/global"))
	})

	It("should rewrite an exact prefix match", func() {
		rule := proxy.RewriteRule{
			MatchPrefix:  "/api/macro",
			TargetPrefix: "/api/market-data/macro",
		}

		Expect(rule.Apply("/api/macro")).To(Equal("/api/market-data/macro"))
	})

	It("should not match across a segment boundary", func() {
		rule := proxy.RewriteRule{
			MatchPrefix:  "/api/macro",
			TargetPrefix: "/api/market-data/macro",
		}

		Expect(rule.Apply("/api/macrotrends")).To(Equal("/api/macrotrends"))
		Expect(rule.Apply("/api/macrotrends/latest")).To(Equal("/api/macrotrends/latest"))
	})

	It("should leave non-matching paths unchanged", func() {
		rule := proxy.RewriteRule{
			MatchPrefix:  "/api/macro",
			TargetPrefix: "/api/market-data/macro",
		}

		Expect(rule.Apply("/api/portfolio/positions")).To(Equal("/api/portfolio/positions"))
	})

	It("should leave everything unchanged with an empty match prefix", func() {
		rule := proxy.RewriteRule{TargetPrefix: "/api/market-data"}

		Expect(rule.Apply("/api/macro/global")).To(Equal("/api/macro/global"))
	})
})
