// Package oracle 调用远端动作预测服务，为共享会话回填提供动作。
package oracle

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"simdesk/internal/logger"
	"simdesk/internal/pkg/circuit"
	"simdesk/internal/pkg/text"
	"simdesk/internal/sim"
)

var (
	ErrMalformedResponse = errors.New("malformed oracle response")
	ErrUnavailable       = errors.New("oracle unavailable")
)

const (
	DefaultTimeout          = 10 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second

	maxResponseBytes = 1 << 20
)

//go:embed schema.json
var responseSchema string

type Options struct {
	URL              string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	HTTPClient       *http.Client
}

// Client posts flattened observations and decodes the predicted action.
type Client struct {
	url     string
	httpc   *http.Client
	breaker *circuit.CircuitBreaker
	schema  *jsonschema.Schema
}

func New(opts Options) (*Client, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, fmt.Errorf("oracle url 不能为空")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = DefaultBreakerThreshold
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = DefaultBreakerCooldown
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: opts.Timeout}
	}
	schema, err := compileSchema(responseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile oracle schema: %w", err)
	}
	return &Client{
		url:     url,
		httpc:   httpc,
		breaker: circuit.NewCircuitBreaker("oracle", opts.BreakerThreshold, opts.BreakerCooldown),
		schema:  schema,
	}, nil
}

func compileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("oracle.json", strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("oracle.json")
}

// Breaker exposes the circuit breaker (tests, health).
func (c *Client) Breaker() *circuit.CircuitBreaker { return c.breaker }

// Predict returns the oracle's action for obs. Transport failures and non-2xx
// answers count against the breaker; while it is open calls fail fast with
// ErrUnavailable.
func (c *Client) Predict(ctx context.Context, obs sim.Observation) (sim.Action, error) {
	payload, err := json.Marshal(obs.Flatten())
	if err != nil {
		return sim.Hold, fmt.Errorf("encode observation: %w", err)
	}
	var action sim.Action
	err = c.breaker.Do(func() error {
		raw, err := c.post(ctx, payload)
		if err != nil {
			return err
		}
		action, err = c.decode(raw)
		return err
	}, func(err error) bool { return errors.Is(err, ErrMalformedResponse) })
	if errors.Is(err, circuit.ErrOpen) {
		return sim.Hold, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return sim.Hold, err
	}
	return action, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	logger.LogOracleRequest(c.url, fmt.Sprintf("POST %d bytes", len(payload)), string(payload))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	logger.LogOracleResponse(c.url, string(raw))
	if resp.StatusCode/100 != 2 {
		logger.Warnf("[oracle] status=%d body=%s", resp.StatusCode, text.Truncate(string(raw), 200))
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	}
	return raw, nil
}

// decode accepts {"action": 0|1|2|"hold"|"buy"|"sell"} and {"Ok": {"Buy": null}}.
func (c *Client) decode(raw []byte) (sim.Action, error) {
	if !gjson.ValidBytes(raw) {
		return sim.Hold, fmt.Errorf("%w: invalid json", ErrMalformedResponse)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return sim.Hold, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return sim.Hold, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	parsed := gjson.ParseBytes(raw)
	var value any
	if a := parsed.Get("action"); a.Exists() {
		if a.Type == gjson.Number {
			value = a.Int()
		} else {
			value = a.String()
		}
	} else {
		parsed.Get("Ok").ForEach(func(key, _ gjson.Result) bool {
			value = key.String()
			return false
		})
	}
	action, err := sim.ParseAction(value)
	if err != nil {
		return sim.Hold, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return action, nil
}
