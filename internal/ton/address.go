package ton

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"
)

// RawAddressLen is the stored address width: 32-byte account hash followed by
// the 4-byte big-endian workchain id.
const RawAddressLen = 36

// AddressToRaw encodes addr into its fixed-width binary form.
func AddressToRaw(addr *address.Address) ([]byte, error) {
	if addr == nil || addr.Type() != address.StdAddress {
		return nil, fmt.Errorf("not a standard address")
	}
	data := addr.Data()
	if len(data) != 32 {
		return nil, fmt.Errorf("unexpected address hash length %d", len(data))
	}

	raw := make([]byte, RawAddressLen)
	copy(raw, data)
	binary.BigEndian.PutUint32(raw[32:], uint32(addr.Workchain()))
	return raw, nil
}

// MustAddressToRaw is AddressToRaw for addresses known to be standard.
func MustAddressToRaw(addr *address.Address) []byte {
	raw, err := AddressToRaw(addr)
	if err != nil {
		panic(err)
	}
	return raw
}

// AddressFromRaw decodes the fixed-width binary form. Display flags are left
// at their defaults.
func AddressFromRaw(raw []byte) (*address.Address, error) {
	if len(raw) != RawAddressLen {
		return nil, fmt.Errorf("raw address must be %d bytes, got %d", RawAddressLen, len(raw))
	}
	wc := int32(binary.BigEndian.Uint32(raw[32:]))
	if wc < -128 || wc > 127 {
		return nil, fmt.Errorf("workchain %d out of range", wc)
	}

	hash := make([]byte, 32)
	copy(hash, raw[:32])
	return address.NewAddress(0, byte(wc), hash), nil
}

// ParseAddress accepts both the user-friendly base64 form and the raw
// "<workchain>:<hex>" form.
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}
	return address.ParseAddr(s)
}

// ParseAddressToRaw is ParseAddress followed by AddressToRaw.
func ParseAddressToRaw(s string) ([]byte, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", s, err)
	}
	return AddressToRaw(addr)
}

// FormatRaw renders a stored address for logs and API responses.
// Invalid input renders as hex so it is still traceable.
func FormatRaw(raw []byte, testnet bool) string {
	addr, err := AddressFromRaw(raw)
	if err != nil {
		return fmt.Sprintf("%x", raw)
	}
	addr.SetTestnetOnly(testnet)
	return addr.String()
}

// SameAccount compares workchain and account hash, ignoring display flags.
func SameAccount(a, b *address.Address) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Workchain() == b.Workchain() && bytes.Equal(a.Data(), b.Data())
}
