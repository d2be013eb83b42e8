package pathfs_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/dedupfs/internal/pathfs"
)

func TestHashOfKnownInput(t *testing.T) {
	h := pathfs.Hash([]byte("Hello World"))
	assert.Equal(t, "a591a6d40bf420404a011733cfb7b190d62c65bf0bcda32b57b277d9ad9f146e", h.String())
}

func TestParseHashRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"short",
		"g591a6d40bf420404a011733cfb7b190d62c65bf0bcda32b57b277d9ad9f146e", // invalid hex char
		"A591A6D40BF420404A011733CFB7B190D62C65BF0BCDA32B57B277D9AD9F146E", // uppercase
	}
	for _, s := range cases {
		_, err := pathfs.ParseHash(s)
		assert.ErrorIsf(t, err, pathfs.ErrInvalidHash, "ParseHash(%q) should reject", s)
	}
}

func TestParseHashAcceptsValid(t *testing.T) {
	valid := "a591a6d40bf420404a011733cfb7b190d62c65bf0bcda32b57b277d9ad9f146e"
	h, err := pathfs.ParseHash(valid)
	require.NoError(t, err)
	assert.Equal(t, valid, h.String())
}

func TestShardPrefix(t *testing.T) {
	h, err := pathfs.ParseHash("abcd1234" + strings.Repeat("0", 56))
	require.NoError(t, err)
	a, b := h.ShardPrefix()
	assert.Equal(t, "ab", a)
	assert.Equal(t, "cd", b)
}
