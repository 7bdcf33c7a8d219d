// Package coordinator answers completion requests from page contexts. It
// consults the cache, collapses identical in-flight requests and calls the
// completion client, then post-processes the result.
package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/atinylittleshell/autotab/internal/cache"
	"github.com/atinylittleshell/autotab/internal/failure"
	"github.com/atinylittleshell/autotab/internal/llm"
	"github.com/atinylittleshell/autotab/internal/settings"
	"github.com/atinylittleshell/autotab/pkg/protocol"
	"github.com/rivo/uniseg"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultMinPromptLength = 5

var ErrEmptyPrompt = errors.New("prompt must not be empty")

// SettingsSource is read once per request so writes take effect without a
// restart.
type SettingsSource interface {
	Snapshot() (settings.Snapshot, error)
}

type session struct {
	requestID uint64
	cancel    context.CancelFunc
}

type Coordinator struct {
	settings        SettingsSource
	client          llm.Client
	cache           *cache.Cache
	reporter        *failure.Reporter
	logger          *zap.Logger
	minPromptLength int

	flight singleflight.Group

	mu       sync.Mutex
	sessions map[string]session
}

type Option func(*Coordinator)

func WithMinPromptLength(n int) Option {
	return func(c *Coordinator) { c.minPromptLength = n }
}

func WithReporter(r *failure.Reporter) Option {
	return func(c *Coordinator) { c.reporter = r }
}

func New(store SettingsSource, client llm.Client, completions *cache.Cache, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if completions == nil {
		completions = cache.New()
	}
	c := &Coordinator{
		settings:        store,
		client:          client,
		cache:           completions,
		logger:          logger,
		minPromptLength: DefaultMinPromptLength,
		sessions:        make(map[string]session),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = failure.NewReporter(logger)
	}
	return c
}

func (c *Coordinator) Reporter() *failure.Reporter {
	return c.reporter
}

func (c *Coordinator) Cache() *cache.Cache {
	return c.cache
}

// ParamsFor returns the generation parameters for a settings snapshot.
func ParamsFor(s settings.Snapshot) llm.Params {
	return llm.Params{
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		Stop:        llm.DefaultStop,
	}
}

// RequestCompletion returns a post-processed continuation of prompt.
// Failures carry a failure.Kind; context cancellation is returned as is.
func (c *Coordinator) RequestCompletion(ctx context.Context, prompt string, params llm.Params) (string, error) {
	snapshot, err := c.snapshot()
	if err != nil {
		return "", err
	}
	return c.complete(ctx, snapshot, prompt, params)
}

func (c *Coordinator) snapshot() (settings.Snapshot, error) {
	snapshot, err := c.settings.Snapshot()
	if err != nil {
		return snapshot, &failure.ConfigError{Reason: "reading settings: " + err.Error()}
	}
	return snapshot, nil
}

func (c *Coordinator) complete(ctx context.Context, snapshot settings.Snapshot, prompt string, params llm.Params) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	if !snapshot.Enabled {
		return "", failure.NewConfigError("completions are disabled")
	}
	if !snapshot.HasCredential() {
		return "", failure.NewConfigError("no API key configured")
	}
	if params.Stop == nil {
		params.Stop = llm.DefaultStop
	}

	key := cache.NewFingerprint(prompt, params.Model, params.Temperature, params.MaxTokens, params.Stop)
	if snapshot.CacheEnabled {
		if completion, ok := c.cache.Get(key); ok {
			c.logger.Debug("coordinator cache hit", zap.String("fingerprint", string(key)))
			return completion, nil
		}
	}

	// The shared call outlives any single caller; callers that are
	// cancelled stop waiting but do not abort it for the others.
	results := c.flight.DoChan(string(key), func() (any, error) {
		raw, err := c.client.Complete(context.WithoutCancel(ctx), prompt, params, snapshot.APIKey)
		if err != nil {
			return "", err
		}
		completion := PostProcess(raw, params.Stop)
		if snapshot.CacheEnabled && completion != "" {
			c.cache.Put(key, completion)
		}
		return completion, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Debug("coordinator shared in-flight request", zap.String("fingerprint", string(key)))
		}
		return res.Val.(string), nil
	}
}

// Handle answers one page request. callerID scopes single-flight: a newer
// request from the same caller supersedes the older one. The bool is false
// when the response was superseded and must not be delivered.
func (c *Coordinator) Handle(ctx context.Context, callerID string, req protocol.Request) (protocol.Response, bool) {
	ctx, cancel := context.WithCancel(ctx)
	requestID := req.RequestID

	c.mu.Lock()
	if prev, ok := c.sessions[callerID]; ok {
		prev.cancel()
	}
	c.sessions[callerID] = session{requestID: requestID, cancel: cancel}
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if cur, ok := c.sessions[callerID]; ok && cur.requestID == requestID {
			delete(c.sessions, callerID)
		}
		c.mu.Unlock()
	}()

	prompt := req.TextBeforeCursor()
	if uniseg.GraphemeClusterCount(prompt) < c.minPromptLength {
		c.logger.Debug("coordinator prompt below floor", zap.Uint64("requestId", requestID))
		return req.Reply(""), true
	}

	completion, err := c.handle(ctx, prompt)
	if ctx.Err() != nil {
		c.reporter.Report("coordinator", failure.ErrStaleResponse,
			zap.String("caller", callerID),
			zap.Uint64("requestId", requestID),
		)
		return protocol.Response{}, false
	}
	if err != nil {
		kind := c.reporter.Report("coordinator", err,
			zap.String("caller", callerID),
			zap.Uint64("requestId", requestID),
		)
		return req.ReplyError(string(kind), err), true
	}
	return req.Reply(completion), true
}

func (c *Coordinator) handle(ctx context.Context, prompt string) (string, error) {
	snapshot, err := c.snapshot()
	if err != nil {
		return "", err
	}
	return c.complete(ctx, snapshot, prompt, ParamsFor(snapshot))
}

// PostProcess trims the raw text, cuts it at the first stop sequence and
// trims trailing whitespace left by the cut.
func PostProcess(raw string, stop []string) string {
	text := strings.TrimSpace(raw)
	cut := len(text)
	for _, s := range stop {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimRightFunc(text[:cut], unicode.IsSpace)
}
