// Package protocol implements the session protocol (SP), spec.md §4.8: a
// length-prefixed request/response protocol carried over a
// mutually-authenticated secure transport the package never sets up
// itself (spec.md's explicit "the transport itself is external" — TLS and
// socket setup are the launcher's job, not this package's).
//
// Framing follows spec.md §6 exactly: a fixed 4-byte command id, a fixed
// per-command struct of inline fields in network byte order (via
// pkg/wire), a terminator byte, then optionally a single length-prefixed
// stream ending in a zero-length frame. Command dispatch is a
// map[Command]handler table, the same shape as
// other_examples/marmos91-dittofs's NFSv4 COMPOUND opDispatchTable
// generalized from XDR operation numbers to this protocol's 18 commands.
package protocol

// Command is the 4-byte command identifier spec.md §6 frames first.
type Command uint32

const (
	CmdVersion Command = iota + 1
	CmdLogin
	CmdGetAccountUsage
	CmdGetDirectory
	CmdListDirectory
	CmdGetFile
	CmdGetBlockIndexByID
	CmdGetBlockIndexByName
	CmdStoreFile
	CmdDeleteFile
	CmdUndeleteFile
	CmdMoveObject
	CmdCreateDirectory
	CmdDeleteDirectory
	CmdUndeleteDirectory
	CmdChangeDirAttributes
	CmdSetClientStoreMarker
	CmdFinished
)

func (c Command) String() string {
	switch c {
	case CmdVersion:
		return "Version"
	case CmdLogin:
		return "Login"
	case CmdGetAccountUsage:
		return "GetAccountUsage"
	case CmdGetDirectory:
		return "GetDirectory"
	case CmdListDirectory:
		return "ListDirectory"
	case CmdGetFile:
		return "GetFile"
	case CmdGetBlockIndexByID:
		return "GetBlockIndexByID"
	case CmdGetBlockIndexByName:
		return "GetBlockIndexByName"
	case CmdStoreFile:
		return "StoreFile"
	case CmdDeleteFile:
		return "DeleteFile"
	case CmdUndeleteFile:
		return "UndeleteFile"
	case CmdMoveObject:
		return "MoveObject"
	case CmdCreateDirectory:
		return "CreateDirectory"
	case CmdDeleteDirectory:
		return "DeleteDirectory"
	case CmdUndeleteDirectory:
		return "UndeleteDirectory"
	case CmdChangeDirAttributes:
		return "ChangeDirAttributes"
	case CmdSetClientStoreMarker:
		return "SetClientStoreMarker"
	case CmdFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// ProtocolVersion is the only version this implementation speaks.
// CmdVersion's reply fails the session if the client's version mismatches.
const ProtocolVersion uint32 = 1

// terminator is the single byte that ends every command's fixed inline
// fields, spec.md §6's "a terminator byte".
const terminator = 0xFF

// status values, the first field of every reply frame.
const (
	statusOK    uint32 = 0
	statusError uint32 = 1
)

// MoveObject flag bits, packed into the request's u16 flags field.
const (
	MoveFlagAllWithSameName  uint16 = 1 << 0
	MoveFlagAllowOverDeleted uint16 = 1 << 1
)

// maxNameLen bounds an inline entry-name field, matching pkg/dirrecord's
// own (unexported) name size limit.
const maxNameLen = 4 * 1024
