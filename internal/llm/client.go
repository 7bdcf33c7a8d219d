// Package llm talks to an OpenAI-compatible text completion endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/atinylittleshell/autotab/internal/failure"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultTimeout = 10 * time.Second
)

// DefaultStop ends a completion at the first line break or sentence end.
var DefaultStop = []string{"\n", ".", "?", "!"}

// Params are the generation parameters sent with every request.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// Client returns a raw continuation for prompt. The text is returned as the
// API produced it; post-processing is up to the caller.
type Client interface {
	Complete(ctx context.Context, prompt string, params Params, credential string) (string, error)
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// OpenAIClient issues one POST to /completions per call. Calls share one
// pooled HTTP client.
type OpenAIClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	mu         sync.Mutex
	credential string
	api        *openai.Client
}

func NewOpenAIClient(opts Options, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &OpenAIClient{
		baseURL:    opts.BaseURL,
		timeout:    opts.Timeout,
		httpClient: NewLLMHttpClient(opts.Headers),
		logger:     logger,
	}
}

// apiClient returns the go-openai client for credential, rebuilding it only
// when the credential changes.
func (c *OpenAIClient) apiClient(credential string) *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api == nil || c.credential != credential {
		clientConfig := openai.DefaultConfig(credential)
		clientConfig.BaseURL = c.baseURL
		clientConfig.HTTPClient = c.httpClient
		c.api = openai.NewClientWithConfig(clientConfig)
		c.credential = credential
	}
	return c.api
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string, params Params, credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", failure.NewConfigError("no API key configured")
	}

	client := c.apiClient(credential)

	stop := params.Stop
	if stop == nil {
		stop = DefaultStop
	}

	request := openai.CompletionRequest{
		Model:       params.Model,
		Prompt:      prompt,
		MaxTokens:   params.MaxTokens,
		Temperature: float32(params.Temperature),
		Stop:        stop,
	}
	if request.Temperature == 0 {
		// omitempty would drop an exact zero
		request.Temperature = math.SmallestNonzeroFloat32
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("llm requesting completion",
		zap.String("model", params.Model),
		zap.Int("promptLength", len(prompt)),
	)

	resp, err := client.CreateCompletion(ctx, request)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &failure.ProtocolError{Detail: "response has no choices"}
	}
	return resp.Choices[0].Text, nil
}

// classify maps go-openai and net/http errors onto the failure taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var protocolErr *failure.ProtocolError

	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &protocolErr):
		return protocolErr
	case errors.As(err, &apiErr):
		return failure.NewHTTPError(apiErr.HTTPStatusCode, errors.New(apiErr.Message))
	case errors.As(err, &reqErr):
		return failure.NewHTTPError(reqErr.HTTPStatusCode, reqErr.Err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &failure.ProtocolError{Detail: "malformed response body", Err: err}
	case errors.Is(err, openai.ErrCompletionUnsupportedModel):
		return failure.NewConfigError("model is not supported by the completions endpoint")
	default:
		return &failure.TransportError{Err: err}
	}
}
