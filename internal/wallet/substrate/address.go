package substrate

import (
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/vedhavyas/go-subkey/v2"
)

// AddressFamily tells native SS58 accounts apart from embedded Ethereum accounts
type AddressFamily int

const (
	FamilySubstrate AddressFamily = iota
	FamilyEthereum
)

var h160Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Recipient is a parsed destination address
type Recipient struct {
	Family    AddressFamily
	AccountID []byte // 32 bytes for FamilySubstrate, 20 for FamilyEthereum
}

// DecodeAddress decodes an SS58 address and returns the 32-byte account id.
// The network prefix is not enforced so that generic (42) addresses are accepted.
func DecodeAddress(address string) ([]byte, error) {
	_, pub, err := subkey.SS58Decode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid ss58 address %q: %w", address, err)
	}
	if len(pub) != 32 {
		return nil, fmt.Errorf("invalid ss58 address %q: account id is %d bytes", address, len(pub))
	}
	return pub, nil
}

// EncodeAddress encodes a public key as SS58 with the given network prefix
func EncodeAddress(pub []byte, prefix uint16) string {
	return subkey.SS58Encode(pub, prefix)
}

// ParseRecipient accepts an SS58 address, or a 0x-prefixed H160 address when
// foreign is true.
func ParseRecipient(address string, foreign bool) (*Recipient, error) {
	if foreign && h160Pattern.MatchString(address) {
		raw, err := hex.DecodeString(address[2:])
		if err != nil {
			return nil, err
		}
		return &Recipient{Family: FamilyEthereum, AccountID: raw}, nil
	}
	pub, err := DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	return &Recipient{Family: FamilySubstrate, AccountID: pub}, nil
}
