// Package fileid provides deterministic document and chunk IDs.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const prefix = "file:"

// FileDocID returns a stable document ID for the given absolute path.
// Same path always yields the same ID, so re-loading an unchanged directory is idempotent.
func FileDocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// ChunkID returns the ID of the chunk at ordinal within docID. Ordinals are zero padded
// so lexical order of chunk IDs matches their order inside a document.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s#%06d", docID, ordinal)
}

// ParseChunkID splits a chunk ID into its document ID and ordinal.
func ParseChunkID(chunkID string) (docID string, ordinal int, err error) {
	i := strings.LastIndexByte(chunkID, '#')
	if i < 0 {
		return "", 0, fmt.Errorf("invalid chunk id %q", chunkID)
	}
	ordinal, err = strconv.Atoi(chunkID[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid chunk id %q: %w", chunkID, err)
	}
	return chunkID[:i], ordinal, nil
}
