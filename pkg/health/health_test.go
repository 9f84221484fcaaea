package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestHealth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Health Server Suite")
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

var _ = Describe("Server", func() {
	var (
		logger   *logrus.Logger
		registry *prometheus.Registry
	)

	BeforeEach(func() {
		logger = newTestLogger()
		registry = prometheus.NewRegistry()
	})

	It("serves OK on /health and /healthz", func() {
		addr := fmt.Sprintf(":%d", 18180)
		server := NewServer(addr, registry, "", nil, logger)
		server.StartAsync()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(ctx)
		}()
		time.Sleep(100 * time.Millisecond)

		resp, err := http.Get("http://127.0.0.1:18180/health")
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		body, _ := io.ReadAll(resp.Body)
		Expect(string(body)).To(Equal("OK"))
	})

	It("serves prometheus metrics in exposition format", func() {
		addr := fmt.Sprintf(":%d", 18181)
		server := NewServer(addr, registry, "", nil, logger)
		server.StartAsync()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(ctx)
		}()
		time.Sleep(100 * time.Millisecond)

		resp, err := http.Get("http://127.0.0.1:18181/metrics")
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("requires the bearer token on /metrics and /report when configured", func() {
		addr := fmt.Sprintf(":%d", 18182)
		server := NewServer(addr, registry, "s3cr3t-token-value", func() (map[string]interface{}, error) {
			return map[string]interface{}{"ok": true}, nil
		}, logger)
		server.StartAsync()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Stop(ctx)
		}()
		time.Sleep(100 * time.Millisecond)

		resp, err := http.Get("http://127.0.0.1:18182/report")
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:18182/report", nil)
		req.Header.Set("Authorization", "Bearer s3cr3t-token-value")
		resp2, err := http.DefaultClient.Do(req)
		Expect(err).ToNot(HaveOccurred())
		defer resp2.Body.Close()
		Expect(resp2.StatusCode).To(Equal(http.StatusOK))
	})

	It("caches the report within the TTL instead of recomputing every call", func() {
		calls := 0
		reportFn := func() (map[string]interface{}, error) {
			calls++
			return map[string]interface{}{"calls": calls}, nil
		}
		server := NewServer(":0", registry, "", reportFn, logger).WithReportCacheTTL(time.Hour)

		body1, err := server.renderReport()
		Expect(err).ToNot(HaveOccurred())
		body2, err := server.renderReport()
		Expect(err).ToNot(HaveOccurred())

		Expect(body1).To(Equal(body2))
		Expect(calls).To(Equal(1))
	})

	It("refreshes the report once the TTL elapses", func() {
		calls := 0
		reportFn := func() (map[string]interface{}, error) {
			calls++
			return map[string]interface{}{"calls": calls}, nil
		}
		server := NewServer(":0", registry, "", reportFn, logger).WithReportCacheTTL(time.Millisecond)

		_, err := server.renderReport()
		Expect(err).ToNot(HaveOccurred())
		time.Sleep(5 * time.Millisecond)
		_, err = server.renderReport()
		Expect(err).ToNot(HaveOccurred())

		Expect(calls).To(Equal(2))
	})

	It("surfaces an error from ReportFunc as a 500", func() {
		server := NewServer(":0", registry, "", func() (map[string]interface{}, error) {
			return nil, errors.New("boom")
		}, logger)

		_, err := server.renderReport()
		Expect(err).To(HaveOccurred())

		rec := httptest.NewRecorder()
		server.handleReport(rec, httptest.NewRequest(http.MethodGet, "/report", nil))
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	})
})
