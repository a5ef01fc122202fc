package logger_test

import (
	"bytes"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/acptraces/pkg/logger"
)

func TestLogger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logger Suite")
}

var _ = Describe("NewLoggerWithWriters", func() {
	It("logs warnings at verbosity 0", func() {
		var buf bytes.Buffer
		l := logger.NewLoggerWithWriters(0, &buf)
		l.Warn("careful now")
		_ = l.Sync()

		Expect(buf.String()).To(ContainSubstring("careful now"))
	})

	It("filters info at verbosity 0", func() {
		var buf bytes.Buffer
		l := logger.NewLoggerWithWriters(0, &buf)
		l.Info("hidden")
		_ = l.Sync()

		Expect(buf.String()).To(BeEmpty())
	})

	It("logs info at verbosity 1", func() {
		var buf bytes.Buffer
		l := logger.NewLoggerWithWriters(1, &buf)
		l.Info("visible")
		_ = l.Sync()

		Expect(buf.String()).To(ContainSubstring("visible"))
	})

	It("logs debug at verbosity 2", func() {
		var buf bytes.Buffer
		l := logger.NewLoggerWithWriters(2, &buf)
		l.Debug("wire detail")
		_ = l.Sync()

		Expect(buf.String()).To(ContainSubstring("wire detail"))
	})

	It("writes to every provided writer", func() {
		var a, b bytes.Buffer
		l := logger.NewLoggerWithWriters(1, &a, &b)
		l.Info("fan out")
		_ = l.Sync()

		Expect(a.String()).To(ContainSubstring("fan out"))
		Expect(b.String()).To(ContainSubstring("fan out"))
	})
})
