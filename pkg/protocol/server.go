package protocol

import (
	"bytes"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/boxvault/boxvault/pkg/account"
	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/blog"
	"github.com/boxvault/boxvault/pkg/cryptox"
	"github.com/boxvault/boxvault/pkg/dirrecord"
	"github.com/boxvault/boxvault/pkg/efc"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/ons"
	"github.com/boxvault/boxvault/pkg/session"
	"github.com/boxvault/boxvault/pkg/sos"
	"github.com/boxvault/boxvault/pkg/wire"
)

// AccountProvider resolves a login's account ID to everything a session
// needs to open a store against it. cmd/boxserver supplies the concrete
// implementation, typically backed by pkg/registry plus a configured
// master key; tests supply a fixture.
type AccountProvider interface {
	Resolve(accountID uint64) (root string, discs sos.DiscSet, blockSize int, keys cryptox.AccountKeys, err error)
}

// Server dispatches framed commands from one connection at a time to
// pkg/session operations. One Server instance is shared across
// connections; Serve is called once per accepted connection, grounded on
// other_examples' NFSv4 Handler (a shared dispatch table plus per-call
// context, no per-connection Handler instance needed).
//
// Server also satisfies pkg/housekeeping's release-requester role
// (spec.md §5's "please release account X" side channel): each logged-in
// connection registers its releaseRequested channel under its account ID,
// and RequestRelease sends on it if the account is currently checked out.
// Serve does not read that channel between commands, so a session keeps its
// write lock until Finished or the connection ends.
type Server struct {
	Provider AccountProvider
	logger   zerolog.Logger

	dispatch map[Command]func(*connState, *wire.Reader, io.Writer) error

	mu       sync.Mutex
	released map[uint64]chan<- struct{}
}

// NewServer builds a Server ready to Serve connections.
func NewServer(provider AccountProvider) *Server {
	s := &Server{
		Provider: provider,
		logger:   blog.WithComponent("protocol"),
		released: make(map[uint64]chan<- struct{}),
	}
	s.dispatch = map[Command]func(*connState, *wire.Reader, io.Writer) error{
		CmdVersion:              s.handleVersion,
		CmdLogin:                s.handleLogin,
		CmdGetAccountUsage:      s.handleGetAccountUsage,
		CmdGetDirectory:         s.handleGetDirectory,
		CmdListDirectory:        s.handleListDirectory,
		CmdGetFile:              s.handleGetFile,
		CmdGetBlockIndexByID:    s.handleGetBlockIndexByID,
		CmdGetBlockIndexByName:  s.handleGetBlockIndexByName,
		CmdStoreFile:            s.handleStoreFile,
		CmdDeleteFile:           s.handleDeleteFile,
		CmdUndeleteFile:         s.handleUndeleteFile,
		CmdMoveObject:           s.handleMoveObject,
		CmdCreateDirectory:      s.handleCreateDirectory,
		CmdDeleteDirectory:      s.handleDeleteDirectory,
		CmdUndeleteDirectory:    s.handleUndeleteDirectory,
		CmdChangeDirAttributes:  s.handleChangeDirAttributes,
		CmdSetClientStoreMarker: s.handleSetClientStoreMarker,
		CmdFinished:             s.handleFinished,
	}
	return s
}

// connState is one connection's session state, spec.md §4.8's per-session
// invariants: a Version then a Login before anything else, read-only
// sessions reject mutations, commands complete strictly in order (Serve's
// loop is single-threaded per connection, so ordering is automatic).
type connState struct {
	versioned bool
	sc        *session.Context
	state     *account.State
	ns        *ons.Namespace

	accountID uint64
	loggedIn  bool
}

func (c *connState) requireLoggedIn(op string) error {
	if c.sc == nil {
		return berr.New(berr.CodeNotLoggedIn, op, nil)
	}
	return nil
}

// Serve runs one connection to completion: reads frames, dispatches, and
// writes replies, until Finished, a framing error, or conn closes. It
// always attempts to clean up any open session before returning, mirroring
// spec.md §5's "client disconnect ... releases the lock".
func (s *Server) Serve(conn io.ReadWriter) error {
	cs := &connState{}
	defer func() {
		if cs.sc != nil {
			_ = cs.sc.Close()
		}
		if cs.loggedIn {
			s.deregister(cs.accountID)
		}
	}()

	rd := wire.NewReader(conn, "protocol.Serve")
	for {
		cmdNum, err := rd.U32()
		if err != nil {
			if berr.CodeOf(err) == berr.CodeTruncated {
				return nil // peer closed between commands
			}
			return err
		}
		cmd := Command(cmdNum)

		if cmd != CmdVersion && !cs.versioned {
			if err := writeErrorReply(conn, berr.CodeNotLoggedIn); err != nil {
				return err
			}
			continue
		}
		if cmd != CmdVersion && cmd != CmdLogin && cs.sc == nil {
			if err := writeErrorReply(conn, berr.CodeNotLoggedIn); err != nil {
				return err
			}
			continue
		}

		handler, ok := s.dispatch[cmd]
		if !ok {
			if err := writeErrorReply(conn, berr.CodeUnknownEncoding); err != nil {
				return err
			}
			continue
		}

		if err := handler(cs, rd, conn); err != nil {
			if berr.CodeOf(err) == berr.CodeConnectionClosed {
				return err
			}
			s.logger.Warn().Err(err).Stringer("command", cmd).Msg("protocol: command failed")
			if werr := writeErrorReply(conn, berr.CodeOf(err)); werr != nil {
				return werr
			}
		}

		if cmd == CmdFinished {
			return nil
		}
	}
}

func writeErrorReply(w io.Writer, code berr.Code) error {
	var b []byte
	b = wire.AppendU32(b, statusError)
	b = wire.AppendU32(b, uint32(code))
	_, err := w.Write(b)
	if err != nil {
		return berr.New(berr.CodeConnectionClosed, "protocol.writeErrorReply", err)
	}
	return writeTerminator(w)
}

func writeOKReply(w io.Writer, fields []byte) error {
	b := wire.AppendU32(nil, statusOK)
	b = append(b, fields...)
	if _, err := w.Write(b); err != nil {
		return berr.New(berr.CodeConnectionClosed, "protocol.writeOKReply", err)
	}
	return writeTerminator(w)
}

// --- Version / Login ---------------------------------------------------

func (s *Server) handleVersion(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.Version"
	clientVersion, err := rd.U32()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	if clientVersion != ProtocolVersion {
		return berr.New(berr.CodeUnknownEncoding, op, nil)
	}
	cs.versioned = true
	return writeOKReply(w, wire.AppendU32(nil, ProtocolVersion))
}

func (s *Server) handleLogin(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.Login"
	accountID, err := rd.U64()
	if err != nil {
		return err
	}
	readOnlyByte, err := rd.Bytes(1)
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	readOnly := readOnlyByte[0] != 0

	root, discs, blockSize, keys, err := s.Provider.Resolve(accountID)
	if err != nil {
		return berr.New(berr.CodeObjectNotFound, op, err)
	}

	state, err := account.Load(root + "/info")
	if err != nil {
		return err
	}
	store := sos.New(discs, blockSize)
	ns := ons.New(8)

	releaseRequested := make(chan struct{}, 1)
	sc, err := session.Open(store, ns, root, keys, state, readOnly, releaseRequested)
	if err != nil {
		return err
	}

	cs.sc = sc
	cs.state = state
	cs.ns = ns
	cs.accountID = accountID
	cs.loggedIn = true
	s.register(accountID, releaseRequested)

	b := wire.AppendU64(nil, uint64(objectid.Root))
	b = wire.AppendU64(b, state.Info().ClientStoreMarker)
	return writeOKReply(w, b)
}

func (s *Server) handleFinished(cs *connState, rd *wire.Reader, w io.Writer) error {
	if err := readTerminator(rd); err != nil {
		return err
	}
	var err error
	if cs.sc != nil {
		err = cs.sc.Close()
		cs.sc = nil
	}
	if cs.loggedIn {
		s.deregister(cs.accountID)
		cs.loggedIn = false
	}
	if err != nil {
		return err
	}
	return writeOKReply(w, nil)
}

// register records accountID's release-request channel for the duration
// of its session, so RequestRelease can reach it.
func (s *Server) register(accountID uint64, ch chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released[accountID] = ch
}

func (s *Server) deregister(accountID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.released, accountID)
}

// RequestRelease posts one request, without blocking, on the channel that
// accountID's active session registered at login (spec.md §5's housekeeping
// side channel). The session does not act on it; its write lock is held
// until the connection ends. A no-op if the account isn't currently logged in.
func (s *Server) RequestRelease(accountID uint64) {
	s.mu.Lock()
	ch, ok := s.released[accountID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// --- Account usage -------------------------------------------------------

func (s *Server) handleGetAccountUsage(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.GetAccountUsage"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	info := cs.sc.State.Info()
	var b []byte
	b = wire.AppendU64(b, info.BlocksCurrent)
	b = wire.AppendU64(b, info.BlocksOld)
	b = wire.AppendU64(b, info.BlocksDeleted)
	b = wire.AppendU64(b, info.BlocksDirectories)
	b = wire.AppendU64(b, info.SoftQuotaBlocks)
	b = wire.AppendU64(b, info.HardQuotaBlocks)
	return writeOKReply(w, b)
}

// --- Directory reads ------------------------------------------------------

func readObjectStream(sc *session.Context, id objectid.ID) ([]byte, error) {
	relPath, err := sc.NS.ObjectPath("", id, false)
	if err != nil {
		return nil, berr.New(berr.CodeObjectNotFound, "protocol.readObjectStream", err)
	}
	r, err := sc.Store.OpenRead(relPath)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (s *Server) handleGetDirectory(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.GetDirectory"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	idRaw, err := rd.U64()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}

	data, err := readObjectStream(cs.sc, objectid.ID(idRaw))
	if err != nil {
		return err
	}
	if err := writeOKReply(w, nil); err != nil {
		return err
	}
	return writeStream(w, data)
}

func (s *Server) handleListDirectory(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.ListDirectory"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	idRaw, err := rd.U64()
	if err != nil {
		return err
	}
	flagsFilter, err := rd.U16()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}

	data, err := readObjectStream(cs.sc, objectid.ID(idRaw))
	if err != nil {
		return err
	}
	dir, err := dirrecord.Decode(bytes.NewReader(data))
	if err != nil {
		return berr.New(berr.CodeDirectoryCorrupt, op, err)
	}

	filtered := dirrecord.New(dir.ObjectID, dir.ContainerID)
	filtered.Attributes = dir.Attributes
	filtered.AttrModTime = dir.AttrModTime
	for _, e := range dir.Entries {
		if uint16(e.Flags)&flagsFilter == uint16(e.Flags) {
			filtered.AddEntry(e)
		}
	}

	if err := writeOKReply(w, nil); err != nil {
		return err
	}
	return writeStream(w, filtered.Encode())
}

func (s *Server) handleGetFile(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.GetFile"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	if _, err := rd.U64(); err != nil { // in_dir, unused for the lookup itself
		return err
	}
	fileIDRaw, err := rd.U64()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}

	data, err := readObjectStream(cs.sc, objectid.ID(fileIDRaw))
	if err != nil {
		return err
	}
	if err := writeOKReply(w, nil); err != nil {
		return err
	}
	return writeStream(w, data)
}

func (s *Server) handleGetBlockIndexByID(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.GetBlockIndexByID"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	idRaw, err := rd.U64()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	return s.replyBlockIndex(cs, objectid.ID(idRaw), w)
}

func (s *Server) handleGetBlockIndexByName(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.GetBlockIndexByName"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	inDirRaw, err := rd.U64()
	if err != nil {
		return err
	}
	name, err := rd.LenPrefixedBytes(maxNameLen)
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}

	dirData, err := readObjectStream(cs.sc, objectid.ID(inDirRaw))
	if err != nil {
		return err
	}
	dir, err := dirrecord.Decode(bytes.NewReader(dirData))
	if err != nil {
		return berr.New(berr.CodeDirectoryCorrupt, op, err)
	}
	entry := dir.CurrentByName(name)
	if entry == nil {
		return berr.New(berr.CodeObjectNotFound, op, nil)
	}
	return s.replyBlockIndex(cs, entry.ID, w)
}

func (s *Server) replyBlockIndex(cs *connState, id objectid.ID, w io.Writer) error {
	const op = "protocol.replyBlockIndex"
	data, err := readObjectStream(cs.sc, id)
	if err != nil {
		return err
	}
	stream, err := efc.DecodeStreamBytes(data)
	if err != nil {
		return berr.New(berr.CodeUnknownEncoding, op, err)
	}
	if err := writeOKReply(w, nil); err != nil {
		return err
	}
	return writeStream(w, stream.EncodeBlockIndex())
}

// --- Mutations -------------------------------------------------------------

func (s *Server) handleStoreFile(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.StoreFile"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	inDirRaw, err := rd.U64()
	if err != nil {
		return err
	}
	modTime, err := rd.U64()
	if err != nil {
		return err
	}
	attrHash, err := rd.U64()
	if err != nil {
		return err
	}
	diffFromRaw, err := rd.U64()
	if err != nil {
		return err
	}
	name, err := rd.LenPrefixedBytes(maxNameLen)
	if err != nil {
		return err
	}
	markOlderByte, err := rd.Bytes(1)
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	encoded, err := readStream(rd)
	if err != nil {
		return err
	}

	newID, err := cs.sc.AddFile(objectid.ID(inDirRaw), name, modTime, attrHash, objectid.ID(diffFromRaw), markOlderByte[0] != 0, encoded)
	if err != nil {
		return err
	}
	return writeOKReply(w, wire.AppendU64(nil, uint64(newID)))
}

func (s *Server) handleDeleteFile(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.DeleteFile"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	inDirRaw, err := rd.U64()
	if err != nil {
		return err
	}
	name, err := rd.LenPrefixedBytes(maxNameLen)
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}

	existed, id, err := cs.sc.DeleteFile(name, objectid.ID(inDirRaw))
	if err != nil {
		return err
	}
	var existedByte byte
	if existed {
		existedByte = 1
	}
	b := append([]byte{existedByte}, wire.AppendU64(nil, uint64(id))...)
	return writeOKReply(w, b)
}

func (s *Server) handleUndeleteFile(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.UndeleteFile"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	inDirRaw, err := rd.U64()
	if err != nil {
		return err
	}
	idRaw, err := rd.U64()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}

	existed, err := cs.sc.UndeleteFile(objectid.ID(idRaw), objectid.ID(inDirRaw))
	if err != nil {
		return err
	}
	var existedByte byte
	if existed {
		existedByte = 1
	}
	return writeOKReply(w, []byte{existedByte})
}

func (s *Server) handleMoveObject(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.MoveObject"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	idRaw, err := rd.U64()
	if err != nil {
		return err
	}
	fromDirRaw, err := rd.U64()
	if err != nil {
		return err
	}
	toDirRaw, err := rd.U64()
	if err != nil {
		return err
	}
	flags, err := rd.U16()
	if err != nil {
		return err
	}
	name, err := rd.LenPrefixedBytes(maxNameLen)
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}

	err = cs.sc.Move(objectid.ID(idRaw), objectid.ID(fromDirRaw), objectid.ID(toDirRaw), name,
		flags&MoveFlagAllWithSameName != 0, flags&MoveFlagAllowOverDeleted != 0)
	if err != nil {
		return err
	}
	return writeOKReply(w, nil)
}

func (s *Server) handleCreateDirectory(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.CreateDirectory"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	inDirRaw, err := rd.U64()
	if err != nil {
		return err
	}
	attrsModTime, err := rd.U64()
	if err != nil {
		return err
	}
	modTime, err := rd.U64()
	if err != nil {
		return err
	}
	name, err := rd.LenPrefixedBytes(maxNameLen)
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	attrs, err := readStream(rd)
	if err != nil {
		return err
	}

	newID, alreadyExisted, err := cs.sc.AddDirectory(objectid.ID(inDirRaw), name, attrs, attrsModTime, modTime)
	if err != nil {
		return err
	}
	var existedByte byte
	if alreadyExisted {
		existedByte = 1
	}
	b := wire.AppendU64(nil, uint64(newID))
	b = append(b, existedByte)
	return writeOKReply(w, b)
}

func (s *Server) handleDeleteDirectory(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.DeleteDirectory"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	idRaw, err := rd.U64()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	if err := cs.sc.DeleteDirectory(objectid.ID(idRaw), false); err != nil {
		return err
	}
	return writeOKReply(w, nil)
}

func (s *Server) handleUndeleteDirectory(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.UndeleteDirectory"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	idRaw, err := rd.U64()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	if err := cs.sc.DeleteDirectory(objectid.ID(idRaw), true); err != nil {
		return err
	}
	return writeOKReply(w, nil)
}

func (s *Server) handleChangeDirAttributes(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.ChangeDirAttributes"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	if cs.sc.ReadOnly {
		return berr.New(berr.CodeReadOnlySession, op, nil)
	}
	idRaw, err := rd.U64()
	if err != nil {
		return err
	}
	modTime, err := rd.U64()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	attrs, err := readStream(rd)
	if err != nil {
		return err
	}

	dir, err := cs.sc.LoadDirectory(objectid.ID(idRaw))
	if err != nil {
		return err
	}
	dir.Attributes = attrs
	dir.AttrModTime = modTime
	if err := cs.sc.SaveDirectory(dir); err != nil {
		return err
	}
	return writeOKReply(w, nil)
}

func (s *Server) handleSetClientStoreMarker(cs *connState, rd *wire.Reader, w io.Writer) error {
	const op = "protocol.SetClientStoreMarker"
	if err := cs.requireLoggedIn(op); err != nil {
		return err
	}
	if cs.sc.ReadOnly {
		return berr.New(berr.CodeReadOnlySession, op, nil)
	}
	marker, err := rd.U64()
	if err != nil {
		return err
	}
	if err := readTerminator(rd); err != nil {
		return err
	}
	if err := cs.sc.State.Mutate(true, func(i *account.Info) {
		i.ClientStoreMarker = marker
	}); err != nil {
		return err
	}
	return writeOKReply(w, nil)
}
