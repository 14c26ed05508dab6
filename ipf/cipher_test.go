package ipf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}

	enc := append([]byte(nil), data...)
	NewCipher().Encrypt(enc)
	require.NotEqual(t, data, enc)

	NewCipher().Decrypt(enc)
	require.Equal(t, data, enc)
}

func TestCipherKeyScheduleIsDeterministic(t *testing.T) {
	a := NewCipher()
	b := NewCipher()

	msg := []byte("item/texture/blade_07.dds")

	encA := append([]byte(nil), msg...)
	encB := append([]byte(nil), msg...)
	a.Encrypt(encA)
	b.Encrypt(encB)

	require.Equal(t, encA, encB)
}

func TestCipherStatesAreIndependent(t *testing.T) {
	// Advancing one stream must not affect another keyed from scratch.
	burn := NewCipher()
	for i := 0; i < 1000; i++ {
		burn.DecryptByte(byte(i))
	}

	msg := []byte{0x12, 0x34, 0x56}
	enc := append([]byte(nil), msg...)
	NewCipher().Encrypt(enc)
	NewCipher().Decrypt(enc)
	require.Equal(t, msg, enc)
}

func TestPasswordReturnsACopy(t *testing.T) {
	p := Password()
	require.Len(t, p, 20)

	p[0] ^= 0xFF
	require.NotEqual(t, p[0], Password()[0])
}

func TestCRCTable(t *testing.T) {
	require.Equal(t, uint32(0), crcTab[0])
	// Standard reflected CRC-32 table entry for 0x01.
	require.Equal(t, uint32(0x77073096), crcTab[1])
}
