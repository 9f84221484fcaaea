package config

import (
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Default", func() {
	It("returns sane defaults", func() {
		cfg := Default()
		Expect(cfg.Server.HealthPort).To(Equal(8080))
		Expect(cfg.Watcher.QuietPeriod).To(Equal(500 * time.Millisecond))
		Expect(cfg.Watcher.MaxFileBytes).To(Equal(int64(1024 * 1024)))
		Expect(cfg.Tiers.ConsecutiveFailures).To(Equal(uint32(3)))
		Expect(cfg.Tiers.CircuitCooldown).To(Equal(30 * time.Second))
		Expect(cfg.Dedup.SecondaryWindow).To(Equal(5 * time.Second))
		Expect(cfg.Dedup.PersistentTTL).To(Equal(24 * time.Hour))
		Expect(cfg.RateLimit.BurstPerWindow).To(Equal(30))
	})
})

var _ = Describe("LoadFromEnv", func() {
	var saved map[string]string
	keys := []string{
		"CCTG_BOT_TOKEN", "CCTG_ALLOWED_USER_IDS", "CCTG_HMAC_SECRET",
		"CCTG_HEALTH_PORT", "CCTG_METRICS_TOKEN", "CCTG_EVENTS_DIR",
		"CCTG_RESPONSES_DIR", "CCTG_LOG_LEVEL",
	}

	BeforeEach(func() {
		saved = map[string]string{}
		for _, k := range keys {
			saved[k] = os.Getenv(k)
			os.Unsetenv(k)
		}
	})

	AfterEach(func() {
		for _, k := range keys {
			if saved[k] == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, saved[k])
			}
		}
	})

	It("fails when the bot token is missing", func() {
		_, err := LoadFromEnv()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("CCTG_BOT_TOKEN"))
	})

	It("fails when the allowlist is missing", func() {
		os.Setenv("CCTG_BOT_TOKEN", "tok")
		_, err := LoadFromEnv()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("CCTG_ALLOWED_USER_IDS"))
	})

	It("fails when the HMAC secret is too short", func() {
		os.Setenv("CCTG_BOT_TOKEN", "tok")
		os.Setenv("CCTG_ALLOWED_USER_IDS", "1,2,3")
		os.Setenv("CCTG_HMAC_SECRET", "short")
		_, err := LoadFromEnv()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("32 bytes"))
	})

	It("loads a complete, valid environment", func() {
		os.Setenv("CCTG_BOT_TOKEN", "tok")
		os.Setenv("CCTG_ALLOWED_USER_IDS", "111, 222,333")
		os.Setenv("CCTG_HEALTH_PORT", "9999")
		os.Setenv("CCTG_LOG_LEVEL", "debug")

		cfg, err := LoadFromEnv()
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.ChatBotToken).To(Equal("tok"))
		Expect(cfg.RateLimit.AllowedUserIDs).To(ConsistOf(int64(111), int64(222), int64(333)))
		Expect(cfg.Server.HealthPort).To(Equal(9999))
		Expect(cfg.Logging.Level).To(Equal("debug"))
	})
})
