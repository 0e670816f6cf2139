// Package verify submits deployed contracts to an Etherscan-compatible block
// explorer for source verification.
package verify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/neftyr/raffle-deploy/internal/chain"
	"github.com/neftyr/raffle-deploy/internal/provision"
)

const (
	// DefaultPollInterval paces submission retries and status polls.
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxAttempts bounds submission retries and status polls each.
	DefaultMaxAttempts = 12
)

// ErrTimeout means the explorer did not settle within the attempt budget.
var ErrTimeout = errors.New("verification did not complete")

// apiResponse is the envelope every explorer endpoint answers with.
type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// Client verifies one compiled contract.
type Client struct {
	apiURL      string
	apiKey      string
	artifact    *chain.Artifact
	buildInfo   *chain.BuildInfo
	constraint  string
	httpClient  *http.Client
	poll        *rate.Limiter
	maxAttempts int
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval sets the delay between explorer requests.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.poll = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithMaxAttempts bounds submission retries and status polls.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// WithCompilerConstraint sets the accepted solc range.
// Default chain.DefaultCompilerConstraint.
func WithCompilerConstraint(constraint string) Option {
	return func(c *Client) {
		c.constraint = constraint
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the explorer API at apiURL.
func New(apiURL, apiKey string, artifact *chain.Artifact, buildInfo *chain.BuildInfo, opts ...Option) (*Client, error) {
	if apiURL == "" {
		return nil, errors.New("explorer API URL is required")
	}
	if apiKey == "" {
		return nil, errors.New("explorer API key is required")
	}
	if artifact == nil || buildInfo == nil {
		return nil, errors.New("artifact and build info are required for verification")
	}
	c := &Client{
		apiURL:      apiURL,
		apiKey:      apiKey,
		artifact:    artifact,
		buildInfo:   buildInfo,
		constraint:  chain.DefaultCompilerConstraint,
		httpClient:  http.DefaultClient,
		poll:        rate.NewLimiter(rate.Every(DefaultPollInterval), 1),
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Verify implements provision.Verifier. A contract the explorer already
// knows as verified counts as success.
func (c *Client) Verify(ctx context.Context, address common.Address, args provision.ConstructorArgs) error {
	if err := c.buildInfo.CheckCompiler(c.constraint); err != nil {
		return err
	}
	encoded, err := c.artifact.EncodeConstructor(args)
	if err != nil {
		return err
	}

	guid, done, err := c.submit(ctx, address, hex.EncodeToString(encoded))
	if err != nil || done {
		return err
	}
	c.logger.Info("verification submitted", "address", address.Hex(), "guid", guid)
	return c.waitVerified(ctx, guid)
}

// submit posts the source. It retries while the explorer has not indexed the
// contract yet. done is true when the contract is already verified.
func (c *Client) submit(ctx context.Context, address common.Address, constructorArgs string) (guid string, done bool, err error) {
	form := url.Values{
		"apikey":                {c.apiKey},
		"module":                {"contract"},
		"action":                {"verifysourcecode"},
		"contractaddress":       {address.Hex()},
		"sourceCode":            {string(c.buildInfo.Input)},
		"codeformat":            {"solidity-standard-json-input"},
		"contractname":          {c.artifact.FullyQualifiedName()},
		"compilerversion":       {c.buildInfo.CompilerVersion()},
		"constructorArguements": {constructorArgs},
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.poll.Wait(ctx); err != nil {
			return "", false, err
		}
		resp, err := c.do(ctx, http.MethodPost, form)
		if err != nil {
			return "", false, err
		}
		switch {
		case resp.Status == "1":
			return resp.Result, false, nil
		case isAlreadyVerified(resp.Result):
			c.logger.Info("contract already verified", "address", address.Hex())
			return "", true, nil
		case strings.Contains(strings.ToLower(resp.Result), "unable to locate contractcode"):
			c.logger.Debug("explorer has not indexed contract yet", "address", address.Hex(), "attempt", attempt)
			continue
		default:
			return "", false, fmt.Errorf("verifysourcecode: %s: %s", resp.Message, resp.Result)
		}
	}
	return "", false, fmt.Errorf("submit %s: %w", address.Hex(), ErrTimeout)
}

func (c *Client) waitVerified(ctx context.Context, guid string) error {
	query := url.Values{
		"apikey": {c.apiKey},
		"module": {"contract"},
		"action": {"checkverifystatus"},
		"guid":   {guid},
	}
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.poll.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.do(ctx, http.MethodGet, query)
		if err != nil {
			return err
		}
		result := strings.ToLower(resp.Result)
		switch {
		case strings.HasPrefix(result, "pass"), isAlreadyVerified(resp.Result):
			return nil
		case strings.Contains(result, "pending"):
			c.logger.Debug("verification pending", "guid", guid, "attempt", attempt)
		default:
			return fmt.Errorf("checkverifystatus: %s", resp.Result)
		}
	}
	return fmt.Errorf("guid %s: %w", guid, ErrTimeout)
}

func (c *Client) do(ctx context.Context, method string, params url.Values) (*apiResponse, error) {
	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.apiURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.apiURL+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read explorer response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer returned HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode explorer response: %w", err)
	}
	return &out, nil
}

func isAlreadyVerified(result string) bool {
	return strings.Contains(strings.ToLower(result), "already verified")
}
