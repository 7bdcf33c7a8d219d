package llm

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/atinylittleshell/autotab/internal/failure"
	"github.com/hashicorp/go-cleanhttp"
)

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// choiceTransport rejects successful completion responses whose choices
// carry no text. The decoded response cannot tell a missing text field from
// an empty one.
type choiceTransport struct {
	base http.RoundTripper
}

func (t *choiceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 ||
		!strings.HasSuffix(req.URL.Path, "/completions") {
		return resp, err
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	var body struct {
		Choices []map[string]json.RawMessage `json:"choices"`
	}
	if json.Unmarshal(data, &body) != nil {
		// left for the response decoder to report
		return resp, nil
	}
	for _, choice := range body.Choices {
		if text, ok := choice["text"]; !ok || string(text) == "null" {
			return nil, &failure.ProtocolError{Detail: "choice has no text"}
		}
	}
	return resp, nil
}

// NewLLMHttpClient returns a pooled HTTP client that adds headers to every
// request and checks completion choices.
func NewLLMHttpClient(headers map[string]string) *http.Client {
	client := cleanhttp.DefaultPooledClient()
	if len(headers) > 0 {
		client.Transport = &headerTransport{
			base:    client.Transport,
			headers: headers,
		}
	}
	client.Transport = &choiceTransport{base: client.Transport}
	return client
}
