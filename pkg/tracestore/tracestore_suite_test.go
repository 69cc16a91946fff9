package tracestore_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTracestore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "tracestore suite")
}
