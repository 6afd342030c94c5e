package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestDeriveKeyIsDeterministic(t *testing.T) {
	_, addr1, err := DeriveKey(testMnemonic)
	require.NoError(t, err)

	_, addr2, err := DeriveKey(testMnemonic)
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2, "the same mnemonic must always derive the same address")
	assert.NotEqual(t, common.Address{}, addr1)
}

func TestDeriveKeyRejectsInvalidMnemonic(t *testing.T) {
	_, _, err := DeriveKey("not a real mnemonic at all")
	assert.Error(t, err)
}

func TestDeriveKeyDiffersAcrossMnemonics(t *testing.T) {
	_, addr1, err := DeriveKey(testMnemonic)
	require.NoError(t, err)

	other := "legal winner thank year wave sausage worth useful legal winner thank yellow"
	_, addr2, err := DeriveKey(other)
	require.NoError(t, err)

	assert.NotEqual(t, addr1, addr2)
}
