package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestDefaultResolvesDurations(t *testing.T) {
	cfg := Default()
	cfg.resolveDurations()
	assert.Equal(t, time.Hour, cfg.ReputationTickInterval)
	assert.Equal(t, 12*time.Second, cfg.BlockPollInterval)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, uint64(3_000_000), cfg.MaxVerificationGas)
	assert.Equal(t, uint64(10), cfg.ThrottlingSlack)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uopool.toml")
	body := `
entry_point = "0x602aB3881Ff3Fa8dA60a8F44Cf633e91bA1FdB69"
chain_id = 5
max_verification_gas = 4000000
whitelist = ["0x1111111111111111111111111111111111111111"]
`
	assert.Nil(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	assert.Nil(t, err)
	assert.Equal(t, uint64(5), cfg.ChainID)
	assert.Equal(t, uint64(4_000_000), cfg.MaxVerificationGas)
	assert.Equal(t, common.HexToAddress("0x602aB3881Ff3Fa8dA60a8F44Cf633e91bA1FdB69"), cfg.EntryPointAddress())

	whitelist := cfg.WhitelistAddresses()
	_, ok := whitelist[common.HexToAddress("0x1111111111111111111111111111111111111111")]
	assert.True(t, ok)

	// Fields the file does not set still carry their Default() value.
	assert.Equal(t, uint64(10), cfg.ThrottlingSlack)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.NotNil(t, err)
}

func TestParseAddressSetEmpty(t *testing.T) {
	set := parseAddressSet(nil)
	assert.Equal(t, 0, len(set))
}
