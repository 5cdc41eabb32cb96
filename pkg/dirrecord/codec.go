package dirrecord

import (
	"bytes"
	"io"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/wire"
)

const (
	maxAttrBlobSize = 64 * 1024
	maxNameSize     = 4 * 1024
)

// Encode serializes d per spec.md §6's directory stream layout.
func (d *Directory) Encode() []byte {
	var b []byte
	b = append(b, Magic[:]...)
	b = wire.AppendU64(b, uint64(d.ObjectID))
	b = wire.AppendU64(b, uint64(d.ContainerID))
	b = wire.AppendBytes(b, d.Attributes)
	b = wire.AppendU64(b, d.AttrModTime)
	b = wire.AppendU32(b, uint32(len(d.Entries)))
	for _, e := range d.Entries {
		b = wire.AppendBytes(b, e.Name)
		b = wire.AppendU64(b, uint64(e.ID))
		b = wire.AppendU64(b, e.ModTime)
		b = wire.AppendU64(b, e.SizeBlocks)
		b = wire.AppendU16(b, uint16(e.Flags))
		b = wire.AppendU64(b, e.AttrHash)
		b = wire.AppendU64(b, uint64(e.DependsNewer))
		b = wire.AppendU64(b, uint64(e.DependsOlder))
		b = wire.AppendBytes(b, e.Attributes)
	}
	return b
}

// Decode parses a directory stream produced by Encode.
func Decode(r io.Reader) (*Directory, error) {
	const op = "dirrecord.Decode"
	rd := wire.NewReader(r, op)

	magic, err := rd.Bytes(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, berr.New(berr.CodeBadMagic, op, nil)
	}

	objID, err := rd.U64()
	if err != nil {
		return nil, err
	}
	containerID, err := rd.U64()
	if err != nil {
		return nil, err
	}
	attrs, err := rd.LenPrefixedBytes(maxAttrBlobSize)
	if err != nil {
		return nil, err
	}
	attrModTime, err := rd.U64()
	if err != nil {
		return nil, err
	}
	count, err := rd.U32()
	if err != nil {
		return nil, err
	}

	d := &Directory{
		ObjectID:    objectid.ID(objID),
		ContainerID: objectid.ID(containerID),
		Attributes:  attrs,
		AttrModTime: attrModTime,
	}

	for i := uint32(0); i < count; i++ {
		e, err := decodeEntry(rd)
		if err != nil {
			return nil, err
		}
		d.Entries = append(d.Entries, e)
	}
	return d, nil
}

func decodeEntry(rd *wire.Reader) (*Entry, error) {
	name, err := rd.LenPrefixedBytes(maxNameSize)
	if err != nil {
		return nil, err
	}
	id, err := rd.U64()
	if err != nil {
		return nil, err
	}
	modTime, err := rd.U64()
	if err != nil {
		return nil, err
	}
	sizeBlocks, err := rd.U64()
	if err != nil {
		return nil, err
	}
	flags, err := rd.U16()
	if err != nil {
		return nil, err
	}
	attrHash, err := rd.U64()
	if err != nil {
		return nil, err
	}
	dependsNewer, err := rd.U64()
	if err != nil {
		return nil, err
	}
	dependsOlder, err := rd.U64()
	if err != nil {
		return nil, err
	}
	attrs, err := rd.LenPrefixedBytes(maxAttrBlobSize)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Name:         name,
		ID:           objectid.ID(id),
		ModTime:      modTime,
		SizeBlocks:   sizeBlocks,
		Flags:        Flags(flags),
		AttrHash:     attrHash,
		DependsNewer: objectid.ID(dependsNewer),
		DependsOlder: objectid.ID(dependsOlder),
		Attributes:   attrs,
	}, nil
}
