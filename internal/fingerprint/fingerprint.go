// Package fingerprint derives the content identities used as cache keys and lineage artifact ids.
package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// AudioPrefixBytes bounds how much of an audio track feeds the video fingerprint.
const AudioPrefixBytes = 1 << 20

func Text(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func MD5(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: open %s: %w", path, err)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprint: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Video combines the first keyframe with the head of the audio track. A nil audio prefix hashes as empty.
func Video(firstFrame, audioPrefix []byte) string {
	if len(audioPrefix) > AudioPrefixBytes {
		audioPrefix = audioPrefix[:AudioPrefixBytes]
	}
	return Text(MD5(firstFrame) + ":" + MD5(audioPrefix))
}

// ReadPrefix reads at most n bytes from the start of path.
func ReadPrefix(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: open %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, n))
	if err != nil {
		return nil, fmt.Errorf("fingerprint: read %s: %w", path, err)
	}
	return b, nil
}

// Key formats a cache key as "<domain>:<id>".
func Key(domain, id string) string {
	return domain + ":" + id
}
