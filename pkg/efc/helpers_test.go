package efc

import "github.com/boxvault/boxvault/pkg/cryptox"

func decryptTestChunk(keys cryptox.AccountKeys, ciphertext []byte) ([]byte, error) {
	return cryptox.Open(keys.ChunkKey, ciphertext)
}
