package npm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proxyguard/log-watcher/pkg/npm"
)

// fakeAPI serves the token and proxy host endpoints
type fakeAPI struct {
	logins    atomic.Int32
	validTok  atomic.Value
	hostsJSON string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tokens", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Identity string `json:"identity"`
			Secret   string `json:"secret"`
		}
		if r.Method != http.MethodPost || json.NewDecoder(r.Body).Decode(&body) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.Identity != "admin@example.com" || body.Secret != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := f.logins.Add(1)
		token := "token-" + string(rune('0'+n))
		f.validTok.Store(token)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
	mux.HandleFunc("/api/nginx/proxy-hosts", func(w http.ResponseWriter, r *http.Request) {
		valid, _ := f.validTok.Load().(string)
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, f.hostsJSON)
	})
	return mux
}

var _ = Describe("Client", func() {
	var (
		api    *fakeAPI
		server *httptest.Server
		logger *slog.Logger
	)

	BeforeEach(func() {
		api = &fakeAPI{hostsJSON: `[
			{"id": 1, "domain_names": ["a.example.com", "www.a.example.com"], "enabled": true, "ssl_forced": 1},
			{"id": 2, "domain_names": ["b.example.com"], "enabled": 0, "ssl_forced": false}
		]`}
		server = httptest.NewServer(api.handler())
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	AfterEach(func() {
		server.Close()
	})

	newClient := func(password string) *npm.Client {
		return npm.NewClient(npm.ClientConfig{
			BaseURL:  server.URL + "/",
			Username: "admin@example.com",
			Password: password,
			Timeout:  5 * time.Second,
			Logger:   logger,
		})
	}

	It("should log in lazily and list proxy hosts", func() {
		hosts, err := newClient("secret").ProxyHosts(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(hosts).To(HaveLen(2))
		Expect(hosts[0].ID).To(Equal(1))
		Expect(hosts[0].PrimaryDomain()).To(Equal("a.example.com"))
		Expect(bool(hosts[0].Enabled)).To(BeTrue())
		Expect(bool(hosts[0].SSLForced)).To(BeTrue())
		Expect(bool(hosts[1].Enabled)).To(BeFalse())
		Expect(api.logins.Load()).To(Equal(int32(1)))
	})

	It("should reuse the token", func() {
		client := newClient("secret")
		for i := 0; i < 3; i++ {
			_, err := client.ProxyHosts(context.Background())
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(api.logins.Load()).To(Equal(int32(1)))
	})

	It("should log in again when the token is rejected", func() {
		client := newClient("secret")
		_, err := client.ProxyHosts(context.Background())
		Expect(err).NotTo(HaveOccurred())

		api.validTok.Store("rotated")
		hosts, err := client.ProxyHosts(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(hosts).To(HaveLen(2))
		Expect(api.logins.Load()).To(Equal(int32(2)))
	})

	It("should report bad credentials", func() {
		_, err := newClient("wrong").ProxyHosts(context.Background())
		Expect(errors.Is(err, npm.ErrUnauthorized)).To(BeTrue())
	})
})

// staticLister returns fixed hosts and counts calls
type staticLister struct {
	mu    sync.Mutex
	hosts []npm.ProxyHost
	err   error
	calls int
}

func (s *staticLister) ProxyHosts(context.Context) ([]npm.ProxyHost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.hosts, s.err
}

func (s *staticLister) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// gatedLister answers its first call and blocks later ones until
// release is closed
type gatedLister struct {
	staticLister
	release chan struct{}
}

func (g *gatedLister) ProxyHosts(ctx context.Context) ([]npm.ProxyHost, error) {
	if g.callCount() > 0 {
		g.mu.Lock()
		g.calls++
		g.mu.Unlock()
		<-g.release
		return g.hosts, nil
	}
	return g.staticLister.ProxyHosts(ctx)
}

var _ = Describe("HostMap", func() {
	var (
		lister *staticLister
		logger *slog.Logger
	)

	BeforeEach(func() {
		lister = &staticLister{hosts: []npm.ProxyHost{
			{ID: 3, DomainNames: []string{"Shop.Example.com"}},
			{ID: 4, DomainNames: []string{"api.example.com", "api2.example.com"}},
		}}
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	It("should resolve domains case-insensitively and ignore the port", func() {
		hostMap := npm.NewHostMap(lister, time.Hour, logger)
		ctx := context.Background()

		id, ok := hostMap.Resolve(ctx, "shop.example.com")
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(3))

		id, ok = hostMap.Resolve(ctx, "API2.example.com:8443")
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(4))

		_, ok = hostMap.Resolve(ctx, "unknown.example.com")
		Expect(ok).To(BeFalse())

		_, ok = hostMap.Resolve(ctx, "")
		Expect(ok).To(BeFalse())

		Expect(lister.callCount()).To(Equal(1))
	})

	It("should refetch after the TTL", func() {
		hostMap := npm.NewHostMap(lister, 20*time.Millisecond, logger)
		ctx := context.Background()

		hostMap.Resolve(ctx, "shop.example.com")
		Eventually(func() int {
			hostMap.Resolve(ctx, "shop.example.com")
			return lister.callCount()
		}).Should(BeNumerically(">=", 2))
	})

	It("should keep serving the previous map while a refresh is slow", func() {
		gated := &gatedLister{staticLister: staticLister{hosts: lister.hosts}, release: make(chan struct{})}
		defer close(gated.release)
		hostMap := npm.NewHostMap(gated, 20*time.Millisecond, logger)
		ctx := context.Background()

		_, ok := hostMap.Resolve(ctx, "shop.example.com")
		Expect(ok).To(BeTrue())
		time.Sleep(30 * time.Millisecond)

		go hostMap.Resolve(ctx, "shop.example.com")
		Eventually(gated.callCount).Should(Equal(2))

		resolved := make(chan int, 1)
		go func() {
			id, _ := hostMap.Resolve(ctx, "api.example.com")
			resolved <- id
		}()
		Eventually(resolved, time.Second).Should(Receive(Equal(4)))
	})

	It("should resolve nothing when the proxy manager is unreachable", func() {
		lister.err = errors.New("connection refused")
		hostMap := npm.NewHostMap(lister, time.Hour, logger)

		_, ok := hostMap.Resolve(context.Background(), "shop.example.com")
		Expect(ok).To(BeFalse())
	})
})
