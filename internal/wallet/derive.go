package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/decred/dcrd/hdkeychain/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// derivationPath is m/44'/60'/0'/0/0, the standard Ethereum account path.
// Hardened segments are 44', 60', and 0'; the account's external chain and
// first address index are both non-hardened.
var derivationPath = []uint32{
	44 + hdkeychain.HardenedKeyStart,
	60 + hdkeychain.HardenedKeyStart,
	0 + hdkeychain.HardenedKeyStart,
	0,
	0,
}

// evmHDParams satisfies hdkeychain.NetworkParams with the standard BIP-32
// mainnet version bytes. MAMMON never serializes an extended key to its
// base58 string form, so these values only need to be well-formed, not
// network-specific — deriving an Ethereum key does not go through a
// network-specific encoding the way a Bitcoin-style wallet would.
type evmHDParams struct{}

func (evmHDParams) HDPrivKeyVersion() [4]byte { return [4]byte{0x04, 0x88, 0xAD, 0xE4} }
func (evmHDParams) HDPubKeyVersion() [4]byte  { return [4]byte{0x04, 0x88, 0xB2, 0x1E} }

// DeriveKey derives the secp256k1 private key and Ethereum address for a
// BIP-39 mnemonic at m/44'/60'/0'/0/0. The result is a pure function of the
// mnemonic: identical mnemonic in, identical address out, across restarts.
func DeriveKey(mnemonic string) (*ecdsa.PrivateKey, common.Address, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, common.Address{}, fmt.Errorf("wallet: invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")

	key, err := hdkeychain.NewMaster(seed, evmHDParams{})
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("wallet: derive master key: %w", err)
	}

	for _, index := range derivationPath {
		key, err = key.Child(index)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("wallet: derive child %d: %w", index, err)
		}
	}

	ecKey, err := key.ECPrivKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("wallet: extract private key: %w", err)
	}

	privKey, err := crypto.ToECDSA(ecKey.Serialize())
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("wallet: convert to ecdsa key: %w", err)
	}

	return privKey, crypto.PubkeyToAddress(privKey.PublicKey), nil
}
