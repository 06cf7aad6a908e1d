// Package api provides the HTTP server of PizzaPipe.
//
// It exposes the Twilio WhatsApp webhooks, the NLU fulfillment webhook and
// read/delete endpoints over users and conversation history, and wires the
// store, the conversation engine and the messaging transport together.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/catalog"
	"github.com/BTreeMap/PizzaPipe/internal/genai"
	"github.com/BTreeMap/PizzaPipe/internal/intent"
	"github.com/BTreeMap/PizzaPipe/internal/messaging"
	"github.com/BTreeMap/PizzaPipe/internal/order"
	"github.com/BTreeMap/PizzaPipe/internal/scheduler"
	"github.com/BTreeMap/PizzaPipe/internal/store"
	"github.com/BTreeMap/PizzaPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/PizzaPipe/internal/whatsapp"
)

const (
	// DefaultServerAddr is the listen address when none is configured.
	DefaultServerAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout protects against slow clients.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds the work done for one webhook call.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultDedupRetention is how long processed inbound message ids are remembered.
	DefaultDedupRetention = 7 * 24 * time.Hour
	// DefaultDedupPurgeSchedule runs the dedup purge daily at 04:00.
	DefaultDedupPurgeSchedule = "0 4 * * *"
)

// Opts holds configuration options for the API server and its wiring.
type Opts struct {
	Addr          string
	CatalogFile   string
	MenuFile      string
	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration
	UseWhatsmeow  bool
	MenuImageURL  string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithCatalogFile loads dialogue steps from path instead of the embedded catalog.
func WithCatalogFile(path string) Option {
	return func(o *Opts) {
		o.CatalogFile = path
	}
}

// WithMenuFile loads the menu and prices from path instead of the embedded menu.
func WithMenuFile(path string) Option {
	return func(o *Opts) {
		o.MenuFile = path
	}
}

// WithRedis keeps dialogue sessions in Redis with the given TTL.
func WithRedis(addr, password string, ttl time.Duration) Option {
	return func(o *Opts) {
		o.RedisAddr = addr
		o.RedisPassword = password
		o.SessionTTL = ttl
	}
}

// WithMenuImageURL attaches the image at url to the menu prompt on the Twilio sandbox.
func WithMenuImageURL(url string) Option {
	return func(o *Opts) {
		o.MenuImageURL = url
	}
}

// WithWhatsmeow uses a linked WhatsApp device instead of Twilio for outbound messages.
func WithWhatsmeow() Option {
	return func(o *Opts) {
		o.UseWhatsmeow = true
	}
}

// Server serves the HTTP API.
type Server struct {
	manager    *intent.Manager
	st         store.Store
	msgService messaging.Service // nil when no outbound transport is configured
	assistant  intent.Assistant  // nil when no assistant is configured
	orders     *OrderBook
	dedup      store.DedupRepo

	menuImageURL string
}

// NewServer creates a Server. msgService and assistant may be nil.
func NewServer(manager *intent.Manager, st store.Store, msgService messaging.Service, assistant intent.Assistant) *Server {
	s := &Server{
		manager:    manager,
		st:         st,
		msgService: msgService,
		assistant:  assistant,
		orders:     NewOrderBook(),
	}
	if dedup, ok := store.Underlying(st).(store.DedupRepo); ok {
		s.dedup = dedup
	}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /twilioSandbox", s.twilioSandboxHandler)
	mux.HandleFunc("POST /twilioSandboxGPT", s.twilioSandboxGPTHandler)
	if tw, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("POST /twilio/webhook", tw.TwilioWebhookHandler)
	}
	mux.HandleFunc("POST /webhookForIntent", s.intentWebhookHandler)
	mux.HandleFunc("GET /users", s.listUsersHandler)
	mux.HandleFunc("GET /users/{phone}", s.getUserHandler)
	mux.HandleFunc("DELETE /users/{phone}", s.deleteUserHandler)
	mux.HandleFunc("GET /conversations", s.listConversationsHandler)
	mux.HandleFunc("GET /conversations/{phone}", s.getConversationHandler)
	mux.HandleFunc("POST /conversations/{phone}/messages", s.postConversationMessageHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// pruneOrders drops fulfillment orders abandoned for longer than DefaultOrderTTL.
func (s *Server) pruneOrders() {
	if n := s.orders.Prune(time.Now().Add(-DefaultOrderTTL)); n > 0 {
		slog.Info("Server.pruneOrders: dropped stale orders", "count", n)
	}
}

// purgeDedup forgets inbound message ids processed more than DefaultDedupRetention ago.
func (s *Server) purgeDedup() {
	if s.dedup == nil {
		return
	}
	n, err := s.dedup.PurgeProcessed(time.Now().Add(-DefaultDedupRetention))
	if err != nil {
		slog.Error("Server.purgeDedup: purge failed", "error", err)
		return
	}
	slog.Info("Server.purgeDedup: dedup records purged", "count", n)
}

// Run wires every module from the given options and serves until SIGINT or SIGTERM.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultServerAddr, SessionTTL: store.DefaultSessionTTL}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(catalogOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	menu, err := order.LoadMenu(menuOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to load menu: %w", err)
	}
	engine, err := intent.NewEngine(cat, menu)
	if err != nil {
		return fmt.Errorf("failed to build conversation engine: %w", err)
	}

	st, err := openStore(ctx, cfg, storeOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Run: failed to close store", "error", err)
		}
	}()

	var managerOpts []intent.Option
	var assistant intent.Assistant
	genaiOpts = append(genaiOpts, genai.WithMenu(menu.PizzasMenuText()+".\n"+menu.DrinksMenuText()), genai.WithHistory(st, genai.DefaultHistoryLimit))
	if gaClient, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("Run: assistant disabled, registered users get the local ordering dialogue", "reason", err)
	} else {
		assistant = gaClient
		managerOpts = append(managerOpts, intent.WithAssistant(gaClient))
	}
	manager := intent.NewManager(engine, st, st, managerOpts...)

	msgService, err := newMessagingService(ctx, cfg, waOpts)
	if err != nil {
		return err
	}
	if msgService != nil {
		if err := msgService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		defer msgService.Stop()
		messaging.NewResponseHandler(manager, msgService, messaging.WithStore(st)).Start(ctx)
	}

	server := NewServer(manager, st, msgService, assistant)
	server.menuImageURL = cfg.MenuImageURL
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob("prune-orders", DefaultPruneSchedule, server.pruneOrders); err != nil {
		return err
	}
	if err := sched.AddJob("purge-dedup", DefaultDedupPurgeSchedule, server.purgeDedup); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("PizzaPipe API listening", "addr", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Run: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

func catalogOptions(cfg Opts) []catalog.Option {
	if cfg.CatalogFile == "" {
		return nil
	}
	return []catalog.Option{catalog.WithFile(cfg.CatalogFile)}
}

func menuOptions(cfg Opts) []order.Option {
	if cfg.MenuFile == "" {
		return nil
	}
	return []order.Option{order.WithFile(cfg.MenuFile)}
}

// openStore opens the persistent backend and, when configured, moves
// dialogue sessions to Redis.
func openStore(ctx context.Context, cfg Opts, storeOpts []store.Option) (store.Store, error) {
	st, err := store.Open(ctx, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	slog.Info("Run: store opened", "type", fmt.Sprintf("%T", st))
	if cfg.RedisAddr == "" {
		return st, nil
	}

	client, err := store.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, 0)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("Run: dialogue sessions kept in Redis", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
	return store.WithSessionStore(st, store.NewRedisSessionStore(client, cfg.SessionTTL)), nil
}

// newMessagingService returns the outbound transport, or nil when Twilio
// credentials are missing; the synchronous TwiML webhooks keep working then.
func newMessagingService(ctx context.Context, cfg Opts, waOpts []whatsapp.Option) (messaging.Service, error) {
	if cfg.UseWhatsmeow {
		waClient, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(waClient), nil
	}

	twClient, err := twiliowhatsapp.NewClient()
	if err != nil {
		slog.Warn("Run: Twilio REST client disabled, only TwiML webhooks are served", "reason", err)
		return nil, nil
	}
	return messaging.NewTwilioService(twClient), nil
}
