package types

// AccountEncodedSize is the fixed byte length of an encoded account:
// nonce ‖ balance ‖ storage root ‖ code hash.
const AccountEncodedSize = 8 + 8 + DigestLength + DigestLength

// Account is the state of one account. The zero value is the canonical
// "absent" account.
type Account struct {
	Nonce       uint64
	Balance     uint64
	StorageRoot Digest
	CodeHash    Digest
}

// IsContract reports whether the account carries code.
func (a Account) IsContract() bool { return !a.CodeHash.IsZero() }

// IsEmpty reports whether the account is indistinguishable from an absent one.
func (a Account) IsEmpty() bool { return a == Account{} }

// Encode returns the fixed 80-byte encoding.
func (a Account) Encode() []byte {
	w := byteWriter{buf: make([]byte, 0, AccountEncodedSize)}
	w.u64(a.Nonce)
	w.u64(a.Balance)
	w.raw(a.StorageRoot[:])
	w.raw(a.CodeHash[:])
	return w.buf
}

// DecodeAccount parses the fixed 80-byte encoding.
func DecodeAccount(data []byte) (Account, error) {
	r := byteReader{data: data}
	var a Account
	a.Nonce = r.u64()
	a.Balance = r.u64()
	a.StorageRoot = r.digest()
	a.CodeHash = r.digest()
	if r.err != nil {
		return Account{}, r.err
	}
	return a, nil
}
