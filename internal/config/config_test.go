package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func baseConfig() *Config {
	return &Config{
		Network:     "regtest",
		NodeRPCAddr: "127.0.0.1:18332",
		Wallets: []WalletConfig{
			{Descriptor: "wpkh(xpub000/0/*)", GapLimit: 20},
		},
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	cfg := baseConfig()
	require.Nil(t, cfg.Validate())
	require.Equal(t, DefaultNodeRPCTimeout, cfg.NodeRPCTimeout)
	require.Equal(t, DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, DefaultDebounceWindow, cfg.DebounceWindow)
	require.Equal(t, uint32(DefaultInitialImportSize), cfg.InitialImportSize)
}

func TestValidateRejectsUnknownNetwork(t *testing.T) {
	cfg := baseConfig()
	cfg.Network = "not-a-network"
	require.NotNil(t, cfg.Validate())
}

func TestValidateRejectsAmbiguousWalletEntry(t *testing.T) {
	cfg := baseConfig()
	cfg.Wallets = []WalletConfig{{Descriptor: "wpkh(xpub000/0/*)", Xpub: "xpub000", GapLimit: 20}}
	require.NotNil(t, cfg.Validate())
}

func TestValidateRejectsNoWallets(t *testing.T) {
	cfg := baseConfig()
	cfg.Wallets = nil
	require.NotNil(t, cfg.Validate())
}

func TestReadUserPassFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bitcoin.conf")
	require.NoError(t, ioutil.WriteFile(path, []byte("rpcuser=alice\nrpcpass=hunter2\n"), 0600))
	up, err := ReadUserPass(path)
	require.Nil(t, err)
	require.Equal(t, []string{"alice", "hunter2"}, up)
}

func TestReadUserPassFallsBackToCookieFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bitcoin.conf")
	require.NoError(t, ioutil.WriteFile(path, []byte("server=1\n"), 0600))
	cookiePath := filepath.Join(dir, ".cookie")
	require.NoError(t, ioutil.WriteFile(cookiePath, []byte("bob:secretvalue"), 0600))

	up, err := ReadUserPass(path)
	require.Nil(t, err)
	require.Equal(t, []string{"bob", "secretvalue"}, up)
}

func TestReadUserPassMissingFilesReturnsNil(t *testing.T) {
	dir := t.TempDir()
	up, err := ReadUserPass(filepath.Join(dir, "bitcoin.conf"))
	require.Nil(t, err)
	require.Nil(t, up)
}

func TestParamsRejectsUnknownNetwork(t *testing.T) {
	cfg := &Config{Network: "nonsense"}
	_, err := cfg.Params()
	require.NotNil(t, err)
}
