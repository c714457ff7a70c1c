package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustmint/internal/issuance/models"
	"trustmint/internal/ledger/gateway/gatewaytest"
	vmodels "trustmint/internal/verification/models"
	"trustmint/internal/verification/provider"
)

const (
	genesisSeed    = "snoPBrXtMeMyMHUVTgbuqAfg1SUTb"
	genesisAddress = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	color.NoColor = true
	t.Setenv("TRUSTMINT_CONFIG", "")

	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func TestAddress(t *testing.T) {
	t.Run("seed from environment", func(t *testing.T) {
		t.Setenv(defaultSeedEnv, genesisSeed)
		res := run(t, "", "address", "-o", "json")
		require.NoError(t, res.err)

		var out AddressOutput
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
		assert.Equal(t, genesisAddress, out.Address)
		assert.Equal(t, "secp256k1", out.KeyType)
	})

	t.Run("seed from stdin", func(t *testing.T) {
		t.Setenv(defaultSeedEnv, "")
		res := run(t, genesisSeed+"\n", "address")
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, genesisAddress)
	})

	t.Run("custom variable", func(t *testing.T) {
		t.Setenv("ISSUER_SEED", genesisSeed)
		res := run(t, "", "address", "--seed-env", "ISSUER_SEED", "-o", "yaml")
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "address: "+genesisAddress)
	})

	t.Run("no seed", func(t *testing.T) {
		t.Setenv(defaultSeedEnv, "")
		res := run(t, "", "address")
		require.Error(t, res.err)
		assert.Contains(t, res.err.Error(), defaultSeedEnv)
	})

	t.Run("invalid seed", func(t *testing.T) {
		t.Setenv(defaultSeedEnv, "not-a-seed")
		res := run(t, "", "address")
		require.Error(t, res.err)
	})

	t.Run("unknown output format", func(t *testing.T) {
		t.Setenv(defaultSeedEnv, genesisSeed)
		res := run(t, "", "address", "-o", "xml")
		require.Error(t, res.err)
	})
}

func TestIssue(t *testing.T) {
	t.Run("issues against the ledger", func(t *testing.T) {
		node := gatewaytest.NewNode()
		node.Meta = gatewaytest.CreatedIssuanceMeta("00000007B5F762798A53D543A014CAF8B297CFF8F2F937E8")
		url := node.Serve(t)
		t.Setenv(defaultSeedEnv, genesisSeed)

		res := run(t, "", "issue",
			"--ledger-url", url,
			"--poll-interval", "10ms",
			"--metadata", `{"ticker":"TBILL"}`,
			"--maximum-amount", "1000000",
			"--asset-scale", "2",
			"-o", "json",
		)
		require.NoError(t, res.err, res.stderr)

		var out models.LedgerTransactionResult
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
		assert.True(t, out.Success)
		require.NotNil(t, out.AssetID)
		assert.Equal(t, "00000007B5F762798A53D543A014CAF8B297CFF8F2F937E8", *out.AssetID)
		assert.Len(t, node.Blobs(), 1)
	})

	t.Run("ledger failure exits non-zero", func(t *testing.T) {
		node := gatewaytest.NewNode()
		node.TxResult = "tecINSUFFICIENT_RESERVE"
		url := node.Serve(t)
		t.Setenv(defaultSeedEnv, genesisSeed)

		res := run(t, "", "issue", "--ledger-url", url, "--poll-interval", "10ms", "--metadata", `"bond"`)
		require.Error(t, res.err)
		assert.Contains(t, res.stdout, "tecINSUFFICIENT_RESERVE")
	})

	t.Run("metadata must be JSON", func(t *testing.T) {
		t.Setenv(defaultSeedEnv, genesisSeed)
		res := run(t, "", "issue", "--metadata", "{ticker")
		require.Error(t, res.err)
		assert.Contains(t, res.err.Error(), "metadata")
	})

	t.Run("metadata is required", func(t *testing.T) {
		res := run(t, "", "issue")
		require.Error(t, res.err)
	})
}

// webhookRecorder answers like the ingestion endpoint and records bodies.
type webhookRecorder struct {
	mu    sync.Mutex
	calls int
	last  []byte
}

func (r *webhookRecorder) snapshot() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, string(r.last)
}

func webhookServer(t *testing.T, secret string, ack vmodels.Ack) (string, *webhookRecorder) {
	t.Helper()
	rec := &webhookRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.calls++
		rec.last = body
		rec.mu.Unlock()
		if r.URL.Path != webhookPath {
			http.NotFound(w, r)
			return
		}
		if err := provider.VerifySignature(secret, body, r.Header.Get(provider.SignatureHeader)); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ack)
	}))
	t.Cleanup(srv.Close)
	return srv.URL, rec
}

func TestReplayCallback(t *testing.T) {
	level := 3

	t.Run("replays a stored body", func(t *testing.T) {
		url, rec := webhookServer(t, "whsec", vmodels.Ack{Outcome: vmodels.AckApplied, CheckReference: "chk-9", TrustLevel: &level})
		body := `{"payload":{"resource_type":"check","action":"check.completed","object":{"id":"chk-9","status":"complete","result":"clear"}}}`
		path := filepath.Join(t.TempDir(), "chk-9.json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		res := run(t, "", "replay-callback", path, "--server", url, "--secret", "whsec", "-o", "json")
		require.NoError(t, res.err)
		calls, last := rec.snapshot()
		assert.Equal(t, 1, calls)
		assert.JSONEq(t, body, last)

		var out ReplayOutput
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
		require.NotNil(t, out.Ack)
		assert.Equal(t, vmodels.AckApplied, out.Ack.Outcome)
		assert.Equal(t, 3, *out.Ack.TrustLevel)
	})

	t.Run("synthesizes a flat body", func(t *testing.T) {
		url, rec := webhookServer(t, "whsec", vmodels.Ack{Outcome: vmodels.AckDuplicate, CheckReference: "chk-1"})

		res := run(t, "", "replay-callback", "--check-ref", "chk-1", "--result", "consider", "--server", url, "--secret", "whsec")
		require.NoError(t, res.err)
		_, last := rec.snapshot()
		assert.JSONEq(t, `{"check_reference":"chk-1","result":"consider"}`, last)
		assert.Contains(t, res.stdout, "duplicate")
	})

	t.Run("reads stdin", func(t *testing.T) {
		url, rec := webhookServer(t, "", vmodels.Ack{Outcome: vmodels.AckPending, CheckReference: "chk-2"})
		t.Setenv("PROVIDER_WEBHOOK_SECRET", "")

		res := run(t, `{"check_reference":"chk-2"}`, "replay-callback", "-", "--server", url)
		require.NoError(t, res.err)
		calls, _ := rec.snapshot()
		assert.Equal(t, 1, calls)
	})

	t.Run("malformed body never leaves the process", func(t *testing.T) {
		url, rec := webhookServer(t, "whsec", vmodels.Ack{})

		res := run(t, `{"result":"clear"}`, "replay-callback", "-", "--server", url, "--secret", "whsec")
		require.Error(t, res.err)
		calls, _ := rec.snapshot()
		assert.Equal(t, 0, calls)
	})

	t.Run("rejected signature is reported", func(t *testing.T) {
		url, _ := webhookServer(t, "whsec", vmodels.Ack{})

		res := run(t, "", "replay-callback", "--check-ref", "chk-1", "--result", "clear", "--server", url, "--secret", "wrong")
		require.Error(t, res.err)
		assert.Contains(t, res.stdout, "401")
	})

	t.Run("file and flags are exclusive", func(t *testing.T) {
		res := run(t, "", "replay-callback", "x.json", "--check-ref", "chk-1")
		require.Error(t, res.err)
	})
}
