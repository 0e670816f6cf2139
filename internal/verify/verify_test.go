package verify

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neftyr/raffle-deploy/internal/chain"
	"github.com/neftyr/raffle-deploy/internal/provision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

var raffleAddr = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")

func testArgs() provision.ConstructorArgs {
	return provision.ConstructorArgs{
		Coordinator:      common.HexToAddress("0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"),
		SubscriptionID:   1234,
		GasLane:          common.HexToHash("0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"),
		UpdateInterval:   big.NewInt(30),
		EntranceFee:      big.NewInt(10_000_000_000_000_000),
		CallbackGasLimit: 500_000,
	}
}

// explorer scripts an Etherscan-like API. Each submission pops the next
// submit response and each status check pops the next status response; the
// last one repeats.
type explorer struct {
	mu        sync.Mutex
	submits   []apiResponse
	statuses  []apiResponse
	forms     []map[string]string
	checks    int
	submitted int
}

func (e *explorer) next(list []apiResponse, n int) apiResponse {
	if n >= len(list) {
		return list[len(list)-1]
	}
	return list[n]
}

func (e *explorer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp apiResponse
	switch r.Form.Get("action") {
	case "verifysourcecode":
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		e.forms = append(e.forms, form)
		resp = e.next(e.submits, e.submitted)
		e.submitted++
	case "checkverifystatus":
		resp = e.next(e.statuses, e.checks)
		e.checks++
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	artifact, err := chain.LoadArtifact(filepath.Join("testdata", "Raffle.json"))
	require.NoError(t, err)
	buildInfo, err := chain.LoadBuildInfo(filepath.Join("testdata", "build-info.json"))
	require.NoError(t, err)

	opts = append([]Option{
		WithHTTPClient(srv.Client()),
		WithPollInterval(time.Millisecond),
		WithMaxAttempts(5),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	}, opts...)
	c, err := New(srv.URL, "test-key", artifact, buildInfo, opts...)
	require.NoError(t, err)
	return c
}

func TestVerify_SubmitsAndPolls(t *testing.T) {
	e := &explorer{
		submits: []apiResponse{{Status: "1", Message: "OK", Result: "guid-123"}},
		statuses: []apiResponse{
			{Status: "0", Message: "NOTOK", Result: "Pending in queue"},
			{Status: "0", Message: "NOTOK", Result: "Pending in queue"},
			{Status: "1", Message: "OK", Result: "Pass - Verified"},
		},
	}
	c := newTestClient(t, e)

	err := c.Verify(context.Background(), raffleAddr, testArgs())
	require.NoError(t, err)

	assert.Equal(t, 3, e.checks)
	require.Len(t, e.forms, 1)
	form := e.forms[0]
	assert.Equal(t, "test-key", form["apikey"])
	assert.Equal(t, raffleAddr.Hex(), form["contractaddress"])
	assert.Equal(t, "solidity-standard-json-input", form["codeformat"])
	assert.Equal(t, "contracts/Raffle.sol:Raffle", form["contractname"])
	assert.Equal(t, "v0.8.7+commit.e28d00a7", form["compilerversion"])
	assert.Contains(t, form["sourceCode"], `"language": "Solidity"`)

	encoded, err := hex.DecodeString(form["constructorArguements"])
	require.NoError(t, err)
	assert.Len(t, encoded, 6*32)
}

func TestVerify_AlreadyVerifiedOnSubmit(t *testing.T) {
	e := &explorer{
		submits: []apiResponse{{Status: "0", Message: "NOTOK", Result: "Contract source code already verified"}},
	}
	c := newTestClient(t, e)

	require.NoError(t, c.Verify(context.Background(), raffleAddr, testArgs()))
	assert.Equal(t, 0, e.checks)
}

func TestVerify_AlreadyVerifiedOnStatus(t *testing.T) {
	e := &explorer{
		submits:  []apiResponse{{Status: "1", Message: "OK", Result: "guid"}},
		statuses: []apiResponse{{Status: "1", Message: "OK", Result: "Already Verified"}},
	}
	c := newTestClient(t, e)

	assert.NoError(t, c.Verify(context.Background(), raffleAddr, testArgs()))
}

func TestVerify_RetriesUntilIndexed(t *testing.T) {
	e := &explorer{
		submits: []apiResponse{
			{Status: "0", Message: "NOTOK", Result: "Unable to locate ContractCode at 0x9fe4"},
			{Status: "1", Message: "OK", Result: "guid"},
		},
		statuses: []apiResponse{{Status: "1", Message: "OK", Result: "Pass - Verified"}},
	}
	c := newTestClient(t, e)

	require.NoError(t, c.Verify(context.Background(), raffleAddr, testArgs()))
	assert.Equal(t, 2, e.submitted)
}

func TestVerify_Failures(t *testing.T) {
	tests := []struct {
		name     string
		explorer *explorer
		want     string
		timeout  bool
	}{
		{
			name:     "submission rejected",
			explorer: &explorer{submits: []apiResponse{{Status: "0", Message: "NOTOK", Result: "Invalid API Key"}}},
			want:     "Invalid API Key",
		},
		{
			name: "bytecode mismatch",
			explorer: &explorer{
				submits:  []apiResponse{{Status: "1", Result: "guid"}},
				statuses: []apiResponse{{Status: "0", Result: "Fail - Unable to verify"}},
			},
			want: "Fail - Unable to verify",
		},
		{
			name: "never settles",
			explorer: &explorer{
				submits:  []apiResponse{{Status: "1", Result: "guid"}},
				statuses: []apiResponse{{Status: "0", Result: "Pending in queue"}},
			},
			timeout: true,
		},
		{
			name:     "never indexed",
			explorer: &explorer{submits: []apiResponse{{Status: "0", Result: "Unable to locate ContractCode"}}},
			timeout:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.explorer)
			err := c.Verify(context.Background(), raffleAddr, testArgs())
			require.Error(t, err)
			if tt.timeout {
				assert.ErrorIs(t, err, ErrTimeout)
			} else {
				assert.ErrorContains(t, err, tt.want)
			}
		})
	}
}

func TestVerify_HTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	err := c.Verify(context.Background(), raffleAddr, testArgs())
	assert.ErrorContains(t, err, "HTTP 429")
}

func TestVerify_CompilerOutOfRange(t *testing.T) {
	e := &explorer{submits: []apiResponse{{Status: "1", Result: "guid"}}}
	c := newTestClient(t, e, WithCompilerConstraint("^0.7.0"))

	err := c.Verify(context.Background(), raffleAddr, testArgs())
	assert.ErrorContains(t, err, "does not satisfy")
	assert.Equal(t, 0, e.submitted)
}

func TestNew_RequiresSettings(t *testing.T) {
	_, err := New("", "key", &chain.Artifact{}, &chain.BuildInfo{})
	assert.ErrorContains(t, err, "API URL")
	_, err = New("http://x", "", &chain.Artifact{}, &chain.BuildInfo{})
	assert.ErrorContains(t, err, "API key")
	_, err = New("http://x", "key", nil, &chain.BuildInfo{})
	assert.ErrorContains(t, err, "artifact and build info")
}
