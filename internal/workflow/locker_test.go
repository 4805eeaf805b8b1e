package workflow_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/workflow"
)

var _ = Describe("LocalLocker", func() {
	It("serialises holders of the same key", func() {
		locker := workflow.NewLocalLocker()
		var inside, peak int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				unlock, err := locker.Lock(context.Background(), "app-1")
				Expect(err).NotTo(HaveOccurred())
				n := atomic.AddInt32(&inside, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				unlock()
			}()
		}
		wg.Wait()
		Expect(peak).To(Equal(int32(1)))
	})

	It("gives up when the context ends", func() {
		locker := workflow.NewLocalLocker()
		unlock, err := locker.Lock(context.Background(), "app-1")
		Expect(err).NotTo(HaveOccurred())
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(ctx, "app-1")
		Expect(internal.IsErrorCode(err, internal.ErrCodeLockUnavailable)).To(BeTrue())

		other, err := locker.Lock(context.Background(), "app-2")
		Expect(err).NotTo(HaveOccurred())
		other()
	})
})

var _ = Describe("RedisLocker", func() {
	var (
		mr  *miniredis.Miniredis
		rdb *redis.Client
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	})

	AfterEach(func() {
		rdb.Close()
		mr.Close()
	})

	It("holds the key until released", func() {
		locker := workflow.NewRedisLocker(rdb, time.Minute, 50*time.Millisecond)
		unlock, err := locker.Lock(context.Background(), "app-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(mr.Exists("asset-loan:lock:app-1")).To(BeTrue())

		_, err = locker.Lock(context.Background(), "app-1")
		Expect(internal.IsErrorCode(err, internal.ErrCodeLockUnavailable)).To(BeTrue())

		unlock()
		Expect(mr.Exists("asset-loan:lock:app-1")).To(BeFalse())

		again, err := locker.Lock(context.Background(), "app-1")
		Expect(err).NotTo(HaveOccurred())
		again()
	})

	It("does not release a lock taken over after expiry", func() {
		locker := workflow.NewRedisLocker(rdb, time.Second, 50*time.Millisecond)
		unlock, err := locker.Lock(context.Background(), "app-1")
		Expect(err).NotTo(HaveOccurred())

		mr.FastForward(2 * time.Second)
		second, err := locker.Lock(context.Background(), "app-1")
		Expect(err).NotTo(HaveOccurred())

		unlock()
		Expect(mr.Exists("asset-loan:lock:app-1")).To(BeTrue())
		second()
		Expect(mr.Exists("asset-loan:lock:app-1")).To(BeFalse())
	})
})
