package sos

import (
	"bytes"
	"io"
	"os"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/blog"
)

// Reader is a seekable view over a committed object, regardless of which of
// the three states (write, striped, striped-degraded) it was found in.
type Reader struct {
	*bytes.Reader
	State State
}

// OpenRead locates relPath in whichever state it currently exists, rebuilds
// the payload if necessary (degraded read), and returns a seekable Reader.
//
// A write file takes priority over any partial set of stripe files: per
// spec.md §4.1 the transform step is not atomic, so an interrupted
// transform can leave the write file and some subset of stripe files
// coexisting briefly. The write file is always complete and correct in
// that window, so preferring it gives a safe read; the checker (§4.7) is
// responsible for finishing or rolling back the transform offline.
func (s *Store) OpenRead(relPath string) (*Reader, error) {
	wfPath := s.Discs.rolePath(relPath, RoleStripe1, extWriteFile)
	if payload, err := os.ReadFile(wfPath); err == nil {
		return &Reader{Reader: bytes.NewReader(payload), State: StateWrite}, nil
	} else if !os.IsNotExist(err) {
		return nil, berr.New(berr.CodeFileIsDamagedNotRecoverable, "sos.OpenRead", err)
	}

	raw := make([][]byte, numRoles)
	present := 0
	for r := Role(0); r < numRoles; r++ {
		p := s.Discs.rolePath(relPath, r, extStriped)
		data, err := os.ReadFile(p)
		if err == nil {
			raw[r] = data
			present++
		} else if !os.IsNotExist(err) {
			root := s.Discs.Paths[physicalDisc(relPath, r)]
			s.quarantine(root, relPath)
		}
	}

	if present == 0 {
		return nil, berr.New(berr.CodeObjectNotFound, "sos.OpenRead", nil)
	}

	missing := missingRoles(raw)
	if len(missing) == 0 {
		payload := interleave(raw[RoleStripe1], raw[RoleStripe2], payloadLenFromParity(raw[RoleParity]), s.BlockSize)
		return &Reader{Reader: bytes.NewReader(payload), State: StateStriped}, nil
	}
	if len(missing) > 1 {
		return nil, berr.New(berr.CodeFileIsDamagedNotRecoverable, "sos.OpenRead", nil)
	}

	payload, err := s.reconstruct(raw, missing[0])
	if err != nil {
		return nil, berr.New(berr.CodeFileIsDamagedNotRecoverable, "sos.OpenRead", err)
	}
	blog.Logger.Warn().Str("path", relPath).Str("missing_role", missing[0].String()).Msg("sos: degraded read, reconstructed from parity")
	return &Reader{Reader: bytes.NewReader(payload), State: StateStripedDegraded}, nil
}

func missingRoles(raw [][]byte) []Role {
	var out []Role
	for r := Role(0); r < numRoles; r++ {
		if raw[r] == nil {
			out = append(out, r)
		}
	}
	return out
}

func payloadLenFromParity(parity []byte) int {
	if len(parity) < trailerSize {
		return 0
	}
	return int(getU64(parity[len(parity)-trailerSize:]))
}

// reconstruct rebuilds the payload given two of the three role files and
// the identity of the missing one, per spec.md §4.1's degraded-read
// algorithm.
func (s *Store) reconstruct(raw [][]byte, missing Role) ([]byte, error) {
	switch missing {
	case RoleParity:
		// Parity is the benign case: both data stripes are intact, no
		// reconstruction needed.
		return interleave(raw[RoleStripe1], raw[RoleStripe2], len(raw[RoleStripe1])+len(raw[RoleStripe2]), s.BlockSize), nil
	case RoleStripe1:
		rebuilt, totalLen, err := reconstructMissing(raw[RoleStripe2], raw[RoleParity], s.BlockSize, true)
		if err != nil {
			return nil, err
		}
		return interleave(rebuilt, raw[RoleStripe2], totalLen, s.BlockSize), nil
	case RoleStripe2:
		rebuilt, totalLen, err := reconstructMissing(raw[RoleStripe1], raw[RoleParity], s.BlockSize, false)
		if err != nil {
			return nil, err
		}
		return interleave(raw[RoleStripe1], rebuilt, totalLen, s.BlockSize), nil
	default:
		return nil, io.ErrUnexpectedEOF
	}
}
