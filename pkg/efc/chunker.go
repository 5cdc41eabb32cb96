package efc

// DefaultChunkSize is the fixed-size chunker's default block width,
// spec.md §4.3 step 2 ("the default policy is a fixed-size chunker (e.g.
// 4 KiB) with a final short chunk").
const DefaultChunkSize = 4096

// FixedChunks splits data into size-byte chunks with a final short chunk,
// the default non-patch chunking policy.
func FixedChunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(data) == 0 {
		return nil
	}
	var chunks [][]byte
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}
