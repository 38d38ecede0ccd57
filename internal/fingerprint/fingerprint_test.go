package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextIsSHA256Hex(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Text(""))
	assert.Equal(t, Text("abc"), Bytes([]byte("abc")))
	assert.NotEqual(t, Text("abc"), Text("abd"))
}

func TestVideoIsDeterministicAndBounded(t *testing.T) {
	frame := []byte("frame")
	audio := []byte(strings.Repeat("a", AudioPrefixBytes))
	longer := append(append([]byte{}, audio...), []byte("tail beyond the prefix")...)

	assert.Equal(t, Video(frame, audio), Video(frame, audio))
	assert.Equal(t, Video(frame, audio), Video(frame, longer), "bytes past the prefix must not change the id")
	assert.NotEqual(t, Video(frame, audio), Video([]byte("other"), audio))
	assert.Equal(t, Text(MD5(frame)+":"+MD5(nil)), Video(frame, nil))
}

func TestFileMD5AndReadPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	sum, err := FileMD5(path)
	require.NoError(t, err)
	assert.Equal(t, MD5([]byte("hello world")), sum)

	head, err := ReadPrefix(path, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(head))

	_, err = FileMD5(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "search:abc", Key("search", "abc"))
}
