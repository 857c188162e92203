//go:build integration

package integration

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/lab_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/lab_mon/internal/infra"
	"github.com/eliteGoblin/focusd/lab_mon/internal/policy"
	"github.com/eliteGoblin/focusd/lab_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/lab_mon/test/fixtures"
)

// stubProcesses returns a fixed, replaceable process list.
type stubProcesses struct {
	mu    sync.Mutex
	names []string
}

func (s *stubProcesses) ListNames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...), nil
}

func (s *stubProcesses) set(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = names
}

type stubConnections struct{ conns []domain.Connection }

func (s stubConnections) Established(context.Context) ([]domain.Connection, error) {
	return s.conns, nil
}

type stubResolver map[string]string

func (s stubResolver) ReverseLookup(_ context.Context, ip string) (string, error) {
	return s[ip], nil
}

func fastBootstrap(lab string) usecase.BootstrapConfig {
	return usecase.BootstrapConfig{
		LabCode:          lab,
		ClientName:       "pc-01",
		Mode:             usecase.BootstrapAuto,
		ProbeAttempts:    2,
		ProbeDelay:       10 * time.Millisecond,
		RegisterAttempts: 2,
		OfflineRetry:     20 * time.Millisecond,
	}
}

var _ = Describe("Lab monitoring agent", func() {
	var (
		server *fixtures.FakeAdminServer
		client *infra.AdminHTTPClient
		logger *zap.Logger
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		server = fixtures.NewFakeAdminServer()
		client = infra.NewAdminClient(server.URL, time.Second, zap.NewNop())
		logger = zap.NewNop()
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	})

	AfterEach(func() {
		cancel()
		server.Close()
	})

	Describe("Bootstrap", func() {
		Context("when the admin server is up", func() {
			It("registers and receives the lab prompt", func() {
				server.SetLabPrompt("Only the editor is allowed. Application: ")

				session, err := usecase.NewBootstrapper(client, nil, fastBootstrap("CS101"), logger).Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(session.ClientID).To(Equal("client-1"))
				Expect(session.PolicyPrompt).To(HavePrefix("Only the editor"))
				Expect(server.Registrations()).To(Equal([]string{"pc-01"}))
			})
		})

		Context("when the admin server starts late", func() {
			It("waits offline and registers once it answers", func() {
				server.SetDown(true)
				go func() {
					time.Sleep(150 * time.Millisecond)
					server.SetDown(false)
				}()

				session, err := usecase.NewBootstrapper(client, nil, fastBootstrap("CS101"), logger).Run(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(session.ClientID).NotTo(BeEmpty())
			})
		})

		Context("in manual mode when the operator declines", func() {
			It("aborts without registering", func() {
				server.SetDown(true)
				cfg := fastBootstrap("CS101")
				cfg.Mode = usecase.BootstrapManual
				operator := infra.NewScriptedOperator(strings.NewReader("n\n"), GinkgoWriter)

				_, err := usecase.NewBootstrapper(client, operator, cfg, logger).Run(ctx)
				Expect(err).To(MatchError(domain.ErrBootstrapAborted))
				Expect(server.Registrations()).To(BeEmpty())
			})
		})
	})

	Describe("Detection and delivery", func() {
		var (
			session *domain.Session
			buffer  *infra.FileBuffer
			procs   *stubProcesses
		)

		BeforeEach(func() {
			var err error
			session, err = usecase.NewBootstrapper(client, nil, fastBootstrap("CS101"), logger).Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			buffer, err = infra.NewFileBuffer(filepath.Join(GinkgoT().TempDir(), "activity_log.jsonl"))
			Expect(err).NotTo(HaveOccurred())
			procs = &stubProcesses{}
		})

		It("alerts a forbidden app once and uploads the buffer on flush", func() {
			dispatcher := usecase.NewDispatcher(buffer, client, "CS101", session, logger)
			scanner := usecase.NewProcessScanner(procs,
				policy.NewStaticClassifier([]string{"steam.exe"}),
				usecase.NewSeenSet(domain.DedupOnce, 0, nil),
				dispatcher, logger)

			procs.set("code", "steam.exe", "bash")
			for i := 0; i < 3; i++ {
				scanner.ScanOnce(ctx)
			}

			alerts := server.Alerts()
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].Message).To(Equal("Forbidden app detected: steam.exe"))
			Expect(alerts[0].LabCode).To(Equal("CS101"))
			Expect(alerts[0].ClientID).To(Equal(session.ClientID))

			n, err := usecase.NewFlusher(buffer, client, session.ClientID, logger).Flush(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(server.Logs(session.ClientID)).To(ConsistOf(ContainSubstring(`"name":"steam.exe"`)))
			Expect(buffer.Len()).To(Equal(0))
		})

		It("reports connections to hosts outside the allow-list", func() {
			dispatcher := usecase.NewDispatcher(buffer, client, "CS101", session, logger)
			scanner := usecase.NewNetworkScanner(
				stubConnections{conns: []domain.Connection{
					{PID: 10, RemoteIP: "10.0.0.1", RemotePort: 443},
					{PID: 11, RemoteIP: "10.0.0.2", RemotePort: 443},
				}},
				stubResolver{"10.0.0.1": "www.labresources.edu", "10.0.0.2": "chat.example.org"},
				policy.NewAllowListClassifier([]string{"labresources.edu"}),
				dispatcher, logger)

			result := scanner.ScanOnce(ctx)
			Expect(result.Inspected).To(Equal(2))
			Expect(server.Alerts()).To(ConsistOf(HaveField("Message", "Unauthorized network access: chat.example.org")))
		})

		It("keeps failed alerts in the buffer until a flush succeeds", func() {
			server.RejectAlerts(true)
			server.RejectLogs(true)

			dispatcher := usecase.NewDispatcher(buffer, client, "CS101", session, logger)
			for _, name := range []string{"chrome.exe", "firefox.exe"} {
				dispatcher.Report(ctx, domain.NewViolationEvent(domain.KindProcess, name, time.Now()))
			}
			Expect(server.Alerts()).To(BeEmpty())

			flusher := usecase.NewFlusher(buffer, client, session.ClientID, logger)
			_, err := flusher.Flush(ctx)
			Expect(err).To(HaveOccurred())
			Expect(buffer.Len()).To(Equal(2))

			server.RejectLogs(false)
			n, err := flusher.Flush(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(server.Logs(session.ClientID)).To(HaveLen(2))
			Expect(buffer.Len()).To(Equal(0))
		})
	})

	Describe("Agent", func() {
		It("heartbeats, scans and records its state until stopped", func() {
			session, err := usecase.NewBootstrapper(client, nil, fastBootstrap("CS101"), logger).Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			dir := GinkgoT().TempDir()
			buffer, err := infra.NewFileBuffer(filepath.Join(dir, "activity_log.jsonl"))
			Expect(err).NotTo(HaveOccurred())

			state := infra.NewFileStateStore(dir)
			Expect(state.Save(domain.AgentState{PID: 1, ClientID: session.ClientID, StartedAt: time.Now()})).To(Succeed())

			procs := &stubProcesses{names: []string{"notepad.exe"}}
			dispatcher := usecase.NewDispatcher(buffer, client, "CS101", session, logger)
			procScanner := usecase.NewProcessScanner(procs,
				policy.NewStaticClassifier([]string{"notepad.exe"}),
				usecase.NewSeenSet(domain.DedupOnce, 0, nil),
				dispatcher, logger)
			netScanner := usecase.NewNetworkScanner(stubConnections{}, stubResolver{},
				policy.NewAllowListClassifier(nil), dispatcher, logger)

			agent := daemon.NewAgent(daemon.AgentConfig{
				ProcessInterval:   10 * time.Millisecond,
				DetectionCooldown: 50 * time.Millisecond,
				NetworkInterval:   20 * time.Millisecond,
				HeartbeatInterval: 20 * time.Millisecond,
				FlushInterval:     30 * time.Millisecond,
			}, procScanner, netScanner, client,
				usecase.NewFlusher(buffer, client, session.ClientID, logger),
				session, logger).WithStateStore(state)

			runCtx, stop := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- agent.Run(runCtx) }()

			Eventually(func() int { return server.Heartbeats(session.ClientID) }).
				WithTimeout(2 * time.Second).Should(BeNumerically(">=", 2))
			Eventually(func() []string { return server.Logs(session.ClientID) }).
				WithTimeout(2 * time.Second).Should(HaveLen(1))
			Expect(server.Alerts()).To(HaveLen(1))

			stop()
			Eventually(done).WithTimeout(2 * time.Second).Should(Receive(BeNil()))

			saved, err := state.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.LastHeartbeat).NotTo(BeZero())
			Expect(buffer.Len()).To(Equal(0))
		})
	})
})
