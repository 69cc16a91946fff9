package apperr

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("AppError", func() {
	Context("basic error creation", func() {
		It("should create an error with correct properties", func() {
			err := New(KindValidation, "test message")

			Expect(err.Kind).To(Equal(KindValidation))
			Expect(err.Message).To(Equal("test message"))
			Expect(err.Details).To(BeEmpty())
			Expect(err.Cause).To(BeNil())
		})

		It("should implement the error interface", func() {
			err := New(KindValidation, "test message")
			Expect(err.Error()).To(Equal("validation: test message"))
		})

		It("should include details in the error string when present", func() {
			err := New(KindValidation, "test message").WithDetails("extra info")
			Expect(err.Error()).To(Equal("validation: test message (extra info)"))
		})
	})

	Context("wrapping", func() {
		It("should preserve the underlying cause", func() {
			original := errors.New("original error")
			wrapped := Wrap(original, KindInfrastructure, "operation failed")

			Expect(wrapped.Kind).To(Equal(KindInfrastructure))
			Expect(wrapped.Cause).To(Equal(original))
			Expect(errors.Unwrap(wrapped)).To(Equal(original))
			Expect(errors.Is(wrapped, original)).To(BeTrue())
		})

		It("should format with arguments", func() {
			original := errors.New("connection refused")
			wrapped := Wrapf(original, KindExternal, "failed to connect to %s:%d", "localhost", 5432)

			Expect(wrapped.Message).To(Equal("failed to connect to localhost:5432"))
		})
	})

	Context("kind codes", func() {
		It("maps every kind to a closed machine-readable code", func() {
			cases := map[Kind]Code{
				KindValidation:     CodeValidationError,
				KindConflict:       CodeWriteConflict,
				KindIntegrity:      CodeInternalError,
				KindConfiguration:  CodeSchemaUnavailable,
				KindDependency:     CodeValidationError,
				KindExternal:       CodeInternalError,
				KindInfrastructure: CodeInternalError,
			}
			for kind, code := range cases {
				Expect(New(kind, "x").Code()).To(Equal(code))
			}
		})
	})

	Context("type checking", func() {
		It("identifies AppError kinds", func() {
			validationErr := NewValidation("test")
			Expect(Is(validationErr, KindValidation)).To(BeTrue())
			Expect(Is(validationErr, KindConflict)).To(BeFalse())
		})

		It("treats unclassified errors as infrastructure kind", func() {
			regular := errors.New("regular error")
			Expect(Is(regular, KindValidation)).To(BeFalse())
			Expect(KindOf(regular)).To(Equal(KindInfrastructure))
		})
	})

	Context("safe messages", func() {
		It("passes validation messages through", func() {
			err := NewValidation("invalid input: missing field")
			Expect(SafeMessage(err)).To(Equal("invalid input: missing field"))
		})

		It("collapses non-validation kinds to a generic message", func() {
			err := New(KindInfrastructure, "disk full on /var/lib/trace.db")
			Expect(SafeMessage(err)).To(Equal("an internal error occurred"))
		})

		It("returns a generic message for non-AppErrors", func() {
			Expect(SafeMessage(errors.New("panic: nil pointer"))).To(Equal("an unexpected error occurred"))
		})
	})

	Context("logging fields", func() {
		It("includes kind, code, details and cause when present", func() {
			original := errors.New("connection failed")
			err := Wrapf(original, KindInfrastructure, "query failed").WithDetails("table: runs")

			fields := LogFields(err)
			Expect(fields).To(HaveKeyWithValue("error_kind", "infrastructure"))
			Expect(fields).To(HaveKeyWithValue("error_details", "table: runs"))
			Expect(fields).To(HaveKeyWithValue("underlying_error", "connection failed"))
		})

		It("omits optional keys for a bare AppError", func() {
			fields := LogFields(NewValidation("invalid input"))
			Expect(fields).NotTo(HaveKey("error_details"))
			Expect(fields).NotTo(HaveKey("underlying_error"))
		})

		It("degrades gracefully for a non-AppError", func() {
			fields := LogFields(errors.New("regular error"))
			Expect(fields).To(HaveKey("error"))
			Expect(fields).NotTo(HaveKey("error_kind"))
		})
	})

	Context("chaining", func() {
		It("returns nil for no errors", func() {
			Expect(Chain()).To(BeNil())
		})

		It("returns the lone error unmodified", func() {
			original := errors.New("single error")
			Expect(Chain(original)).To(Equal(original))
		})

		It("filters nils and joins the rest", func() {
			err1 := errors.New("error 1")
			err2 := errors.New("error 2")
			chained := Chain(err1, nil, err2, nil)

			Expect(chained).To(HaveOccurred())
			Expect(chained.Error()).To(ContainSubstring("error 1"))
			Expect(chained.Error()).To(ContainSubstring("error 2"))
			Expect(chained.Error()).To(ContainSubstring(" -> "))
		})

		It("returns nil when every input is nil", func() {
			Expect(Chain(nil, nil)).To(BeNil())
		})
	})
})
