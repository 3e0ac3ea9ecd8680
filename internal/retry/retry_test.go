package retry_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/coinpilot/api-gateway/internal/retry"
)

var _ = Describe("Do", func() {
	var (
		ctx    context.Context
		policy retry.Policy
	)

	BeforeEach(func() {
		ctx = context.Background()
		policy = retry.Policy{
			MaxAttempts:  3,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
		}
	})

	It("should return nil on first success without sleeping", func() {
		calls := 0
		start := time.Now()

		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			calls++
			return nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(1))
		Expect(time.Since(start)).To(BeNumerically("<", 5*time.Millisecond))
	})

	It("should retry after a failure and return the success", func() {
		calls := 0

		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("transient")
			}
			return nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(2))
	})

	It("should wait roughly the initial delay before the second attempt", func() {
		policy.MaxAttempts = 2
		policy.InitialDelay = 50 * time.Millisecond
		calls := 0
		start := time.Now()

		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("transient")
			}
			return nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically(">=", 50*time.Millisecond))
		Expect(time.Since(start)).To(BeNumerically("<", 200*time.Millisecond))
	})

	It("should report the attempt number to OnRetry", func() {
		var attempts []int
		policy.OnRetry = func(err error, attempt int) {
			attempts = append(attempts, attempt)
		}
		calls := 0

		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal([]int{1, 2}))
	})

	It("should propagate the final error unchanged", func() {
		sentinel := errors.New("backend down")

		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			return sentinel
		})

		Expect(err).To(MatchError(sentinel))
		Expect(errors.Is(err, sentinel)).To(BeTrue())
	})

	It("should stop after MaxAttempts attempts", func() {
		calls := 0

		_ = retry.Do(ctx, policy, func(ctx context.Context) error {
			calls++
			return errors.New("always failing")
		})

		Expect(calls).To(Equal(3))
	})

	It("should not invoke OnRetry after the last attempt", func() {
		retries := 0
		policy.OnRetry = func(err error, attempt int) {
			retries++
		}

		_ = retry.Do(ctx, policy, func(ctx context.Context) error {
			return errors.New("always failing")
		})

		Expect(retries).To(Equal(2))
	})

	Context("with a Retryable predicate", func() {
		It("should abort immediately on a non-retryable error", func() {
			fatal := errors.New("circuit open")
			policy.Retryable = func(err error) bool {
				return !errors.Is(err, fatal)
			}
			calls := 0

			err := retry.Do(ctx, policy, func(ctx context.Context) error {
				calls++
				return fatal
			})

			Expect(err).To(MatchError(fatal))
			Expect(calls).To(Equal(1))
		})
	})

	Context("with a cancelled context", func() {
		It("should return the last error instead of sleeping", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			cancel()
			calls := 0

			err := retry.Do(cancelCtx, policy, func(ctx context.Context) error {
				calls++
				return errors.New("transient")
			})

			Expect(err).To(HaveOccurred())
			Expect(calls).To(Equal(1))
		})
	})

	Context("with MaxDelay below the computed backoff", func() {
		It("should cap the delay", func() {
			policy.MaxAttempts = 3
			policy.InitialDelay = 40 * time.Millisecond
			policy.MaxDelay = 40 * time.Millisecond
			policy.Multiplier = 10
			start := time.Now()

			_ = retry.Do(ctx, policy, func(ctx context.Context) error {
				return errors.New("always failing")
			})

			// Two waits of at most 40ms each despite the large multiplier.
			Expect(time.Since(start)).To(BeNumerically("<", 200*time.Millisecond))
		})
	})
})
