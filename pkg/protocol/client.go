package protocol

import (
	"io"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/wire"
)

// Client drives one connection through the session protocol from the
// caller's side, encoding requests in exactly the inline-field layout
// Server's handlers decode and reading back each typed reply. It carries
// no session state of its own beyond the connection — spec.md places
// retry/reconnect policy in the client daemon, out of this package's
// scope.
type Client struct {
	rw io.ReadWriter
	rd *wire.Reader
}

// NewClient wraps an already-established, already-secured connection.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw, rd: wire.NewReader(rw, "protocol.Client")}
}

func (c *Client) writeRequest(cmd Command, fields []byte) error {
	b := wire.AppendU32(nil, uint32(cmd))
	b = append(b, fields...)
	if _, err := c.rw.Write(b); err != nil {
		return berr.New(berr.CodeConnectionClosed, "protocol.Client.writeRequest", err)
	}
	return writeTerminator(c.rw)
}

// readReply reads the status word and, on success, returns the reader
// positioned at the start of the reply's inline fields. On a typed error
// reply it returns the decoded berr.Code as an error.
func (c *Client) readReply() error {
	status, err := c.rd.U32()
	if err != nil {
		return err
	}
	if status == statusOK {
		return nil
	}
	codeRaw, err := c.rd.U32()
	if err != nil {
		return err
	}
	if terr := readTerminator(c.rd); terr != nil {
		return terr
	}
	return berr.New(berr.Code(codeRaw), "protocol.Client", nil)
}

// Version performs the mandatory first command.
func (c *Client) Version() error {
	if err := c.writeRequest(CmdVersion, wire.AppendU32(nil, ProtocolVersion)); err != nil {
		return err
	}
	if err := c.readReply(); err != nil {
		return err
	}
	if _, err := c.rd.U32(); err != nil {
		return err
	}
	return readTerminator(c.rd)
}

// Login authenticates against accountID and returns the root directory
// ID (always objectid.Root in this implementation, still sent over the
// wire for protocol-compatibility) and the client's last-saved store
// marker.
func (c *Client) Login(accountID uint64, readOnly bool) (rootDirID uint64, clientStoreMarker uint64, err error) {
	var ro byte
	if readOnly {
		ro = 1
	}
	fields := wire.AppendU64(nil, accountID)
	fields = append(fields, ro)
	if err = c.writeRequest(CmdLogin, fields); err != nil {
		return 0, 0, err
	}
	if err = c.readReply(); err != nil {
		return 0, 0, err
	}
	if rootDirID, err = c.rd.U64(); err != nil {
		return 0, 0, err
	}
	if clientStoreMarker, err = c.rd.U64(); err != nil {
		return 0, 0, err
	}
	return rootDirID, clientStoreMarker, readTerminator(c.rd)
}

// GetAccountUsage returns the account's current usage counters and quotas
// in blocks, in the order the server writes them.
func (c *Client) GetAccountUsage() (current, old, deleted, dirs, softQuota, hardQuota uint64, err error) {
	if err = c.writeRequest(CmdGetAccountUsage, nil); err != nil {
		return
	}
	if err = c.readReply(); err != nil {
		return
	}
	for _, dst := range []*uint64{&current, &old, &deleted, &dirs, &softQuota, &hardQuota} {
		if *dst, err = c.rd.U64(); err != nil {
			return
		}
	}
	err = readTerminator(c.rd)
	return
}

func (c *Client) streamingRequest(cmd Command, fields []byte) ([]byte, error) {
	if err := c.writeRequest(cmd, fields); err != nil {
		return nil, err
	}
	if err := c.readReply(); err != nil {
		return nil, err
	}
	if err := readTerminator(c.rd); err != nil {
		return nil, err
	}
	return readStream(c.rd)
}

// GetDirectory fetches the raw encoded directory stream for id.
func (c *Client) GetDirectory(id uint64) ([]byte, error) {
	return c.streamingRequest(CmdGetDirectory, wire.AppendU64(nil, id))
}

// ListDirectory fetches id's directory filtered to entries whose flags
// are entirely contained in flagsFilter.
func (c *Client) ListDirectory(id uint64, flagsFilter uint16) ([]byte, error) {
	fields := wire.AppendU64(nil, id)
	fields = wire.AppendU16(fields, flagsFilter)
	return c.streamingRequest(CmdListDirectory, fields)
}

// GetFile fetches the raw encoded file stream for fileID within inDir.
func (c *Client) GetFile(inDir, fileID uint64) ([]byte, error) {
	fields := wire.AppendU64(nil, inDir)
	fields = wire.AppendU64(fields, fileID)
	return c.streamingRequest(CmdGetFile, fields)
}

// GetBlockIndexByID fetches just the trailing block index of object id.
func (c *Client) GetBlockIndexByID(id uint64) ([]byte, error) {
	return c.streamingRequest(CmdGetBlockIndexByID, wire.AppendU64(nil, id))
}

// GetBlockIndexByName fetches the block index of the current entry named
// name within inDir.
func (c *Client) GetBlockIndexByName(inDir uint64, name []byte) ([]byte, error) {
	fields := wire.AppendU64(nil, inDir)
	fields = wire.AppendBytes(fields, name)
	return c.streamingRequest(CmdGetBlockIndexByName, fields)
}

// StoreFile uploads encoded — an already client-encoded EFC stream — as a
// new file named name within inDir. diffFromID is 0 if encoded is not a
// patch against a previous version.
func (c *Client) StoreFile(inDir, modTime, attrHash, diffFromID uint64, name []byte, markOlder bool, encoded []byte) (newID uint64, err error) {
	fields := wire.AppendU64(nil, inDir)
	fields = wire.AppendU64(fields, modTime)
	fields = wire.AppendU64(fields, attrHash)
	fields = wire.AppendU64(fields, diffFromID)
	fields = wire.AppendBytes(fields, name)
	var mo byte
	if markOlder {
		mo = 1
	}
	fields = append(fields, mo)

	if err = c.writeRequest(CmdStoreFile, fields); err != nil {
		return 0, err
	}
	if err = writeStream(c.rw, encoded); err != nil {
		return 0, err
	}
	if err = c.readReply(); err != nil {
		return 0, err
	}
	if newID, err = c.rd.U64(); err != nil {
		return 0, err
	}
	return newID, readTerminator(c.rd)
}

// DeleteFile marks every current entry named name within inDir deleted.
func (c *Client) DeleteFile(inDir uint64, name []byte) (existed bool, id uint64, err error) {
	fields := wire.AppendU64(nil, inDir)
	fields = wire.AppendBytes(fields, name)
	if err = c.writeRequest(CmdDeleteFile, fields); err != nil {
		return
	}
	if err = c.readReply(); err != nil {
		return
	}
	existedByte, err := c.rd.Bytes(1)
	if err != nil {
		return
	}
	existed = existedByte[0] != 0
	if id, err = c.rd.U64(); err != nil {
		return
	}
	err = readTerminator(c.rd)
	return
}

// UndeleteFile reverses a prior DeleteFile for id within inDir.
func (c *Client) UndeleteFile(inDir, id uint64) (existed bool, err error) {
	fields := wire.AppendU64(nil, inDir)
	fields = wire.AppendU64(fields, id)
	if err = c.writeRequest(CmdUndeleteFile, fields); err != nil {
		return
	}
	if err = c.readReply(); err != nil {
		return
	}
	existedByte, err := c.rd.Bytes(1)
	if err != nil {
		return
	}
	existed = existedByte[0] != 0
	err = readTerminator(c.rd)
	return
}

// MoveObject relocates id from fromDir to toDir, renaming it to newName.
func (c *Client) MoveObject(id, fromDir, toDir uint64, flags uint16, newName []byte) error {
	fields := wire.AppendU64(nil, id)
	fields = wire.AppendU64(fields, fromDir)
	fields = wire.AppendU64(fields, toDir)
	fields = wire.AppendU16(fields, flags)
	fields = wire.AppendBytes(fields, newName)
	if err := c.writeRequest(CmdMoveObject, fields); err != nil {
		return err
	}
	if err := c.readReply(); err != nil {
		return err
	}
	return readTerminator(c.rd)
}

// CreateDirectory creates a new subdirectory named name within inDir,
// sending attrs as its attached attributes stream.
func (c *Client) CreateDirectory(inDir, attrsModTime, modTime uint64, name, attrs []byte) (newID uint64, alreadyExisted bool, err error) {
	fields := wire.AppendU64(nil, inDir)
	fields = wire.AppendU64(fields, attrsModTime)
	fields = wire.AppendU64(fields, modTime)
	fields = wire.AppendBytes(fields, name)
	if err = c.writeRequest(CmdCreateDirectory, fields); err != nil {
		return
	}
	if err = writeStream(c.rw, attrs); err != nil {
		return
	}
	if err = c.readReply(); err != nil {
		return
	}
	if newID, err = c.rd.U64(); err != nil {
		return
	}
	existedByte, err := c.rd.Bytes(1)
	if err != nil {
		return
	}
	alreadyExisted = existedByte[0] != 0
	err = readTerminator(c.rd)
	return
}

func (c *Client) deleteOrUndeleteDirectory(cmd Command, id uint64) error {
	if err := c.writeRequest(cmd, wire.AppendU64(nil, id)); err != nil {
		return err
	}
	if err := c.readReply(); err != nil {
		return err
	}
	return readTerminator(c.rd)
}

// DeleteDirectory marks id and its contents deleted.
func (c *Client) DeleteDirectory(id uint64) error {
	return c.deleteOrUndeleteDirectory(CmdDeleteDirectory, id)
}

// UndeleteDirectory reverses a prior DeleteDirectory for id.
func (c *Client) UndeleteDirectory(id uint64) error {
	return c.deleteOrUndeleteDirectory(CmdUndeleteDirectory, id)
}

// ChangeDirAttributes replaces id's attributes stream and attribute
// modification time.
func (c *Client) ChangeDirAttributes(id, modTime uint64, attrs []byte) error {
	fields := wire.AppendU64(nil, id)
	fields = wire.AppendU64(fields, modTime)
	if err := c.writeRequest(CmdChangeDirAttributes, fields); err != nil {
		return err
	}
	if err := writeStream(c.rw, attrs); err != nil {
		return err
	}
	if err := c.readReply(); err != nil {
		return err
	}
	return readTerminator(c.rd)
}

// SetClientStoreMarker records the client's opaque store marker for the
// next session to compare against.
func (c *Client) SetClientStoreMarker(marker uint64) error {
	if err := c.writeRequest(CmdSetClientStoreMarker, wire.AppendU64(nil, marker)); err != nil {
		return err
	}
	if err := c.readReply(); err != nil {
		return err
	}
	return readTerminator(c.rd)
}

// Finished ends the session cleanly; the server flushes the AS and
// releases its write lock before replying.
func (c *Client) Finished() error {
	if err := c.writeRequest(CmdFinished, nil); err != nil {
		return err
	}
	if err := c.readReply(); err != nil {
		return err
	}
	return readTerminator(c.rd)
}
