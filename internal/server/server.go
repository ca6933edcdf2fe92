// Package server exposes the relay over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fcmrelay/internal/fcm"
	"fcmrelay/internal/journal"
	"fcmrelay/internal/shared"
)

// Sender delivers messages to the gateway. *fcm.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, msg fcm.Message) (*fcm.Response, error)
	SendTopic(ctx context.Context, msg fcm.Message) (*fcm.TopicResponse, error)
	SendBatch(ctx context.Context, msgs []fcm.Message, parallel int) ([]fcm.BatchResult, error)
}

// Deliveries reads the delivery journal. *journal.Store satisfies it.
type Deliveries interface {
	Get(ctx context.Context, id string) (journal.Delivery, error)
	List(ctx context.Context, f journal.Filter) ([]journal.Delivery, error)
	Stats(ctx context.Context) (map[journal.Status]int64, error)
	Ping(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	Logger *slog.Logger
	// Tokens enables bearer authentication on /v1 when non-empty.
	Tokens []string
	// ClientRate caps requests per second per caller (0 disables).
	ClientRate float64
	// Parallel bounds concurrent deliveries of a batch.
	Parallel int
	// MaxBatch bounds the number of messages in a batch.
	MaxBatch int
}

type handler struct {
	sender     Sender
	deliveries Deliveries
	parallel   int
	maxBatch   int
	started    time.Time
}

// NewRouter builds the gin engine.
func NewRouter(sender Sender, deliveries Deliveries, o Options) *gin.Engine {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Parallel < 1 {
		o.Parallel = 1
	}
	if o.MaxBatch < 1 {
		o.MaxBatch = 100
	}
	h := &handler{sender: sender, deliveries: deliveries, parallel: o.Parallel, maxBatch: o.MaxBatch, started: time.Now()}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(o.Logger))
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1", NewACL(o.Tokens).Middleware(), NewClientLimiter(o.ClientRate, int(o.ClientRate)+1).Middleware())
	v1.POST("/messages", h.sendMessage)
	v1.POST("/batch", h.sendBatch)
	v1.POST("/topics/:topic/messages", h.sendTopic)
	v1.GET("/deliveries", h.listDeliveries)
	v1.GET("/deliveries/:id", h.getDelivery)
	v1.GET("/stats", h.stats)
	return r
}

// Server runs the router on an http.Server.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// New creates a Server listening on addr.
func New(addr string, h http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second},
		log: log,
	}
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// messageRequest is the inbound message body. TimeToLive shadows the
// embedded option so an omitted value falls back to the default.
type messageRequest struct {
	To              string            `json:"to"`
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    *fcm.Notification `json:"notification"`
	Data            map[string]any    `json:"data"`
	TimeToLive      *int              `json:"time_to_live"`
	fcm.Options
}

func (m messageRequest) message() fcm.Message {
	opts := m.Options
	opts.TimeToLive = fcm.DefaultTimeToLive
	if m.TimeToLive != nil {
		opts.TimeToLive = *m.TimeToLive
	}
	return fcm.Message{
		To:              m.To,
		RegistrationIDs: m.RegistrationIDs,
		Options:         opts,
		Notification:    m.Notification,
		Data:            m.Data,
	}
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, shared.MarkKind(err, shared.KindValidation))
		return false
	}
	return true
}

func (h *handler) deliver(ctx context.Context, msg fcm.Message) (any, error) {
	switch msg.Kind() {
	case journal.KindTopic, journal.KindCondition:
		return h.sender.SendTopic(ctx, msg)
	default:
		return h.sender.Send(ctx, msg)
	}
}

func (h *handler) sendMessage(c *gin.Context) {
	var req messageRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.deliver(c.Request.Context(), req.message())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) sendTopic(c *gin.Context) {
	topic, err := fcm.NewTopic(c.Param("topic"))
	if err != nil {
		writeError(c, err)
		return
	}
	var req messageRequest
	if !bind(c, &req) {
		return
	}
	if req.To != "" || len(req.RegistrationIDs) > 0 || req.Condition != "" {
		writeError(c, shared.Wrap(shared.ErrValidation, "topic messages take no other recipient"))
		return
	}
	msg := req.message()
	msg.To = topic.Path()
	resp, err := h.sender.SendTopic(c.Request.Context(), msg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type batchItem struct {
	Response *fcm.Response      `json:"response,omitempty"`
	Topic    *fcm.TopicResponse `json:"topic,omitempty"`
	Error    *errorBody         `json:"error,omitempty"`
}

func (h *handler) sendBatch(c *gin.Context) {
	var req struct {
		Messages []messageRequest `json:"messages"`
	}
	if !bind(c, &req) {
		return
	}
	if len(req.Messages) == 0 || len(req.Messages) > h.maxBatch {
		writeError(c, shared.Wrapf(shared.ErrValidation, "batch must hold 1..%d messages", h.maxBatch))
		return
	}
	msgs := make([]fcm.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = m.message()
	}
	results, _ := h.sender.SendBatch(c.Request.Context(), msgs, h.parallel)
	out := make([]batchItem, len(results))
	for i, r := range results {
		out[i] = batchItem{Response: r.Response, Topic: r.Topic}
		if r.Err != nil {
			out[i].Error = &errorBody{Error: r.Err.Error(), Kind: shared.KindOf(r.Err).String()}
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

func (h *handler) listDeliveries(c *gin.Context) {
	f := journal.Filter{Status: journal.Status(c.Query("status"))}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, shared.Wrapf(shared.ErrValidation, "invalid limit %q", v))
			return
		}
		f.Limit = n
	}
	switch f.Status {
	case "", journal.StatusDelivered, journal.StatusFailed, journal.StatusRateLimited:
	default:
		writeError(c, shared.Wrapf(shared.ErrValidation, "unknown status %q", f.Status))
		return
	}
	list, err := h.deliveries.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []journal.Delivery{}
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": list})
}

func (h *handler) getDelivery(c *gin.Context) {
	d, err := h.deliveries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) stats(c *gin.Context) {
	st, err := h.deliveries.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deliveries": st,
		"uptime":     time.Since(h.started).Truncate(time.Second).String(),
	})
}

func (h *handler) health(c *gin.Context) {
	if err := h.deliveries.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
