package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, name := range []string{CRC32IEEE, CRC32Castagnoli, CRC64ECMA} {
		c, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}

	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, CRC32IEEE, c.Name())

	_, err = New("md5")
	assert.Error(t, err)
}

func TestChecksum_SumVerify(t *testing.T) {
	data := []byte("hello logkv")
	for _, name := range []string{CRC32IEEE, CRC32Castagnoli, CRC64ECMA} {
		c, err := New(name)
		require.NoError(t, err)

		digest := c.Sum(nil, data)
		assert.Equal(t, c.Size(), len(digest))
		assert.True(t, c.Verify(data, digest))

		// deterministic
		assert.Equal(t, digest, c.Sum(nil, data))

		flipped := append([]byte(nil), data...)
		flipped[3] ^= 0x01
		assert.False(t, c.Verify(flipped, digest), name)

		assert.False(t, c.Verify(data, digest[:len(digest)-1]), name)
	}
}

func TestChecksum_SumAppends(t *testing.T) {
	c := Default()
	prefix := []byte{0xAA, 0xBB}
	out := c.Sum(prefix, []byte("abc"))
	assert.Equal(t, 2+c.Size(), len(out))
	assert.Equal(t, prefix, out[:2])
}
