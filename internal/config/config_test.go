package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, DefaultRPC, c.RPC)
	assert.Equal(t, uint64(DefaultMaxGas), c.MaxGas)
	assert.Equal(t, DefaultRPCTimeout, c.Timeouts.RPC.Duration)
	assert.Equal(t, DefaultMinedTimeout, c.Timeouts.Mined.Duration)
	assert.Equal(t, DefaultDevnodeImage, c.Devnode.Image)
	assert.Nil(t, c.ChainIDBig())

	fund, err := c.Fund()
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", fund.String())
	require.NoError(t, c.Validate())
}

func TestParse(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyHex := common.Bytes2Hex(crypto.FromECDSA(key))

	data := []byte(`
rpc: ws://node:8546
chainID: 1337
owner: "0x00000000000000000000000000000000000000aa"
privateKey: "0x` + keyHex + `"
maxGas: 4000000
fundAmount: "0x100"
pollInterval: 250ms
timeouts:
  mined: 30s
devnode:
  enabled: true
  startTimeout: 2m
logLevel: 5
`)
	c, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "ws://node:8546", c.RPC)
	assert.Equal(t, uint64(1337), c.ChainIDBig().Uint64())
	assert.Equal(t, uint64(4000000), c.MaxGas)
	assert.Equal(t, 250*time.Millisecond, c.PollInterval.Duration)
	assert.Equal(t, 30*time.Second, c.Timeouts.Mined.Duration)
	assert.Equal(t, DefaultRPCTimeout, c.Timeouts.RPC.Duration, "unset nested field keeps default")
	assert.True(t, c.Devnode.Enabled)
	assert.Equal(t, DefaultDevnodeImage, c.Devnode.Image)
	assert.Equal(t, 2*time.Minute, c.Devnode.StartTimeout.Duration)
	assert.Equal(t, 5, c.LogLevel)

	owner, err := c.OwnerAddress()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xaa"), owner)

	k, err := c.Key()
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(k.PublicKey))

	fund, err := c.Fund()
	require.NoError(t, err)
	assert.Equal(t, int64(256), fund.Int64())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "rpcc: http://x\n"},
		{"bad duration", "pollInterval: soon\n"},
		{"bad owner", "owner: 0x1234\n"},
		{"bad key", "privateKey: 0xzz\n"},
		{"bad fund", "fundAmount: lots\n"},
	}
	for _, test := range tests {
		_, err := Parse([]byte(test.yaml))
		assert.Error(t, err, test.name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riddled.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rpc: http://10.0.0.1:8545\n"), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8545", c.RPC)
	assert.Equal(t, uint64(DefaultMaxGas), c.MaxGas)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "can't read config")
}
