package otel

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NEAR-DevHub/devbot/core/config"
)

var _ = Describe("Setup", func() {
	It("returns nil telemetry when no endpoint is configured", func() {
		t, err := Setup(context.Background(), config.OTelConfig{}, "test")
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(BeNil())
	})
})

var _ = DescribeTable("parseHeaders",
	func(raw string, want map[string]string) {
		Expect(parseHeaders(raw)).To(Equal(want))
	},
	Entry("empty", "", map[string]string{}),
	Entry("single", "x-api-key=abc", map[string]string{"x-api-key": "abc"}),
	Entry("trims and keeps '=' in values", " a = 1 ,b=x=y", map[string]string{"a": "1", "b": "x=y"}),
	Entry("skips pairs without '='", "a=1,broken", map[string]string{"a": "1"}),
)

var _ = Describe("endpoint", func() {
	It("joins the signal path without doubling slashes", func() {
		Expect(endpoint("https://otel.example.com/", "traces")).To(Equal("https://otel.example.com/v1/traces"))
		Expect(endpoint("http://localhost:4318", "logs")).To(Equal("http://localhost:4318/v1/logs"))
	})
})
