package processing

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/zombor/invoice-checker/internal/invoice"
)

// fakeRedis answers Get and Set from a map
type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error {
	return nil
}

var _ = Describe("RedisVerdictCache", func() {
	var (
		client *fakeRedis
		cache  *RedisVerdictCache
		ctx    context.Context
	)

	BeforeEach(func() {
		client = newFakeRedis()
		cache = newRedisVerdictCache(client, 0)
		ctx = context.Background()
	})

	It("misses on an empty cache", func() {
		_, ok, err := cache.Get(ctx, "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("stores verdicts under a prefixed key with the default TTL", func() {
		verdict := invoice.Verdict{IsValid: false, Errors: []string{"Discount exceeds subtotal"}, TotalErrors: 1}
		Expect(cache.Set(ctx, "abc", verdict)).To(Succeed())
		Expect(client.values).To(HaveKey("invoice_verdict:abc"))
		Expect(client.ttls["invoice_verdict:abc"]).To(Equal(24 * time.Hour))

		got, ok, err := cache.Get(ctx, "abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(verdict))
	})

	It("reports connection errors", func() {
		client.err = errors.New("connection refused")
		_, _, err := cache.Get(ctx, "abc")
		Expect(err).To(MatchError(ContainSubstring("connection refused")))
		Expect(cache.Set(ctx, "abc", invoice.Verdict{})).To(MatchError(ContainSubstring("caching verdict")))
	})

	It("reports corrupt entries", func() {
		client.values["invoice_verdict:abc"] = "not json"
		_, ok, err := cache.Get(ctx, "abc")
		Expect(err).To(MatchError(ContainSubstring("decoding cached verdict")))
		Expect(ok).To(BeFalse())
	})

	It("requires an address", func() {
		_, err := NewRedisVerdictCache("", "", 0, time.Hour)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("cacheKey", func() {
	It("is stable for the same bytes", func() {
		Expect(cacheKey([]byte(validRecord))).To(Equal(cacheKey([]byte(validRecord))))
		Expect(cacheKey([]byte(validRecord))).To(HaveLen(64))
	})

	It("differs for different records", func() {
		Expect(cacheKey([]byte(validRecord))).NotTo(Equal(cacheKey([]byte(mismatchedRecord))))
	})
})
