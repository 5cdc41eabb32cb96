package efc

import (
	"bytes"
	"sort"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/cryptox"
	"github.com/boxvault/boxvault/pkg/wire"
)

const (
	encodingPlain     byte = 0 // unused on the wire; reserved for future "no encryption" debug mode
	encodingEncrypted byte = 1

	maxXattrBlobSize = 256 * 1024
	maxXattrName     = 256
	maxXattrValue    = 64 * 1024
	maxSymlinkTarget = 4 * 1024
)

// Xattr is one extended attribute, name-sorted on encode per spec.md §4.3
// step 1 ("extended-attributes sorted by name").
type Xattr struct {
	Name  string
	Value []byte
}

// Attributes is the per-object attributes structure: spec.md §4.3 step 1
// ("uid/gid, mode, mtime, ctime, extended-attributes sorted by name,
// optionally symlink target").
type Attributes struct {
	UID, GID      uint32
	Mode          uint32
	ModTime       int64
	ChangeTime    int64
	Xattrs        []Xattr
	SymlinkTarget string // empty if not a symlink
}

// encodePlain serializes a to its plaintext wire form (before encryption).
func (a *Attributes) encodePlain() []byte {
	sorted := append([]Xattr(nil), a.Xattrs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b []byte
	b = wire.AppendU32(b, a.UID)
	b = wire.AppendU32(b, a.GID)
	b = wire.AppendU32(b, a.Mode)
	b = wire.AppendU64(b, uint64(a.ModTime))
	b = wire.AppendU64(b, uint64(a.ChangeTime))
	b = wire.AppendU32(b, uint32(len(sorted)))
	for _, x := range sorted {
		b = wire.AppendBytes(b, []byte(x.Name))
		b = wire.AppendBytes(b, x.Value)
	}
	b = wire.AppendBytes(b, []byte(a.SymlinkTarget))
	return b
}

func decodeAttributesPlain(data []byte) (*Attributes, error) {
	const op = "efc.decodeAttributes"
	rd := wire.NewReader(bytes.NewReader(data), op)

	uid, err := rd.U32()
	if err != nil {
		return nil, err
	}
	gid, err := rd.U32()
	if err != nil {
		return nil, err
	}
	mode, err := rd.U32()
	if err != nil {
		return nil, err
	}
	modTime, err := rd.U64()
	if err != nil {
		return nil, err
	}
	changeTime, err := rd.U64()
	if err != nil {
		return nil, err
	}
	count, err := rd.U32()
	if err != nil {
		return nil, err
	}
	if count > 4096 {
		return nil, berr.New(berr.CodeAttributesBlockCorrupt, op, nil)
	}
	xattrs := make([]Xattr, count)
	for i := range xattrs {
		name, err := rd.LenPrefixedBytes(maxXattrName)
		if err != nil {
			return nil, berr.New(berr.CodeAttributesBlockCorrupt, op, err)
		}
		value, err := rd.LenPrefixedBytes(maxXattrValue)
		if err != nil {
			return nil, berr.New(berr.CodeAttributesBlockCorrupt, op, err)
		}
		xattrs[i] = Xattr{Name: string(name), Value: value}
	}
	target, err := rd.LenPrefixedBytes(maxSymlinkTarget)
	if err != nil {
		return nil, berr.New(berr.CodeAttributesBlockCorrupt, op, err)
	}

	return &Attributes{
		UID: uid, GID: gid, Mode: mode,
		ModTime: int64(modTime), ChangeTime: int64(changeTime),
		Xattrs: xattrs, SymlinkTarget: string(target),
	}, nil
}

// EncryptAttributes encrypts a's plaintext form under the account's
// attributes key, prefixed with the 1-byte encoding tag spec.md §4.3 step 1
// requires ("prefix with a 1-byte encoding tag").
func EncryptAttributes(keys cryptox.AccountKeys, a *Attributes) ([]byte, error) {
	sealed, err := cryptox.Seal(keys.AttributesKey, a.encodePlain())
	if err != nil {
		return nil, berr.New(berr.CodeAttributesBlockCorrupt, "efc.EncryptAttributes", err)
	}
	return append([]byte{encodingEncrypted}, sealed...), nil
}

// DecryptAttributes reverses EncryptAttributes. Never called by the
// server: spec.md §4.3's verify() is explicitly structural-only.
func DecryptAttributes(keys cryptox.AccountKeys, blob []byte) (*Attributes, error) {
	const op = "efc.DecryptAttributes"
	if len(blob) < 1 {
		return nil, berr.New(berr.CodeAttributesBlockCorrupt, op, nil)
	}
	if blob[0] != encodingEncrypted {
		return nil, berr.New(berr.CodeUnknownEncoding, op, nil)
	}
	plain, err := cryptox.Open(keys.AttributesKey, blob[1:])
	if err != nil {
		return nil, berr.New(berr.CodeAttributesBlockCorrupt, op, err)
	}
	if len(plain) > maxXattrBlobSize {
		return nil, berr.New(berr.CodeAttributesBlockCorrupt, op, nil)
	}
	return decodeAttributesPlain(plain)
}
