package watcher_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proxyguard/log-watcher/pkg/watcher"
)

var _ = Describe("RetryPolicy", func() {
	var (
		errTransient = errors.New("deadlock detected")
		errFatal     = errors.New("syntax error")

		sleeper *noSleep
		policy  watcher.RetryPolicy
	)

	BeforeEach(func() {
		sleeper = &noSleep{}
		policy = watcher.RetryPolicy{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			Retryable:  func(err error) bool { return errors.Is(err, errTransient) },
			Sleep:      sleeper.Sleep,
		}
	})

	failing := func(errs ...error) func(context.Context) error {
		return func(context.Context) error {
			if len(errs) == 0 {
				return nil
			}
			err := errs[0]
			errs = errs[1:]
			return err
		}
	}

	It("should double the delay on every retry", func() {
		Expect(policy.Delay(0)).To(Equal(500 * time.Millisecond))
		Expect(policy.Delay(1)).To(Equal(time.Second))
		Expect(policy.Delay(2)).To(Equal(2 * time.Second))
	})

	It("should not retry a successful operation", func() {
		attempts, err := policy.Do(context.Background(), failing())
		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal(1))
		Expect(sleeper.recorded()).To(BeEmpty())
	})

	It("should retry transient errors until success", func() {
		attempts, err := policy.Do(context.Background(), failing(errTransient, errTransient))
		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal(3))
		Expect(sleeper.recorded()).To(Equal([]time.Duration{500 * time.Millisecond, time.Second}))
	})

	It("should give up after the initial attempt and MaxRetries retries", func() {
		attempts, err := policy.Do(context.Background(),
			failing(errTransient, errTransient, errTransient, errTransient, errTransient))
		Expect(err).To(MatchError(errTransient))
		Expect(attempts).To(Equal(4))
		Expect(sleeper.recorded()).To(HaveLen(3))
	})

	It("should not retry other errors", func() {
		attempts, err := policy.Do(context.Background(), failing(errFatal))
		Expect(err).To(MatchError(errFatal))
		Expect(attempts).To(Equal(1))
	})

	It("should not retry anything without a classifier", func() {
		policy.Retryable = nil
		attempts, err := policy.Do(context.Background(), failing(errTransient))
		Expect(err).To(MatchError(errTransient))
		Expect(attempts).To(Equal(1))
	})

	It("should stop waiting when the context is canceled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		attempts, err := policy.Do(ctx, failing(errTransient, errTransient))
		Expect(err).To(MatchError(errTransient))
		Expect(attempts).To(Equal(1))
	})

	It("should call OnRetry before every retry", func() {
		var retried []int
		policy.OnRetry = func(attempt int, _ time.Duration, _ error) {
			retried = append(retried, attempt)
		}
		_, err := policy.Do(context.Background(), failing(errTransient, errTransient))
		Expect(err).NotTo(HaveOccurred())
		Expect(retried).To(Equal([]int{1, 2}))
	})

	It("should wait with a real timer by default", func() {
		policy.Sleep = nil
		policy.BaseDelay = time.Millisecond

		start := time.Now()
		attempts, err := policy.Do(context.Background(), failing(errTransient))
		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal(2))
		Expect(time.Since(start)).To(BeNumerically(">=", time.Millisecond))
	})
})
