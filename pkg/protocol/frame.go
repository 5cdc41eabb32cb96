package protocol

import (
	"bytes"
	"io"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/wire"
)

// streamChunkSize is how large a chunk writeStream splits a payload into.
// Spec.md §6 doesn't mandate a size, only the framing; 64 KiB is this
// package's own choice and is independent of efc.DefaultChunkSize (4096).
const streamChunkSize = 65536

// maxStreamLen bounds a single received stream, guarding against a
// malicious or desynced peer claiming an unbounded length.
const maxStreamLen = 1 << 30

func writeTerminator(w io.Writer) error {
	_, err := w.Write([]byte{terminator})
	if err != nil {
		return berr.New(berr.CodeConnectionClosed, "protocol.writeTerminator", err)
	}
	return nil
}

func readTerminator(rd *wire.Reader) error {
	b, err := rd.Bytes(1)
	if err != nil {
		return err
	}
	if b[0] != terminator {
		return berr.New(berr.CodeTruncated, "protocol.readTerminator", nil)
	}
	return nil
}

// writeStream sends payload as length-prefixed chunks terminated by a
// zero-length frame, spec.md §6's stream framing.
func writeStream(w io.Writer, payload []byte) error {
	const op = "protocol.writeStream"
	for len(payload) > 0 {
		n := len(payload)
		if n > streamChunkSize {
			n = streamChunkSize
		}
		if err := writeChunk(w, payload[:n]); err != nil {
			return berr.New(berr.CodeConnectionClosed, op, err)
		}
		payload = payload[n:]
	}
	return writeChunk(w, nil)
}

func writeChunk(w io.Writer, chunk []byte) error {
	var hdr [4]byte
	wire.U32(len(chunk)).Put(hdr[:])
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(chunk) == 0 {
		return nil
	}
	_, err := w.Write(chunk)
	return err
}

// readStream reads chunks until the zero-length terminator and returns the
// concatenated payload.
func readStream(rd *wire.Reader) ([]byte, error) {
	const op = "protocol.readStream"
	var buf bytes.Buffer
	for {
		n, err := rd.U32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return buf.Bytes(), nil
		}
		if uint64(buf.Len())+uint64(n) > maxStreamLen {
			return nil, berr.New(berr.CodeTruncated, op, nil)
		}
		chunk, err := rd.Bytes(n)
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
}
