package dhcp4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainSearchRoundTrip(t *testing.T) {
	names := []string{"eng.example.com", "corp.example.com"}

	value := encodeDomainSearch(names)
	got, err := decodeDomainSearch(value)
	require.NoError(t, err)

	require.Len(t, got, len(names))
	for i, name := range names {
		assert.Equal(t, name+".", got[i])
	}
}

func TestDomainSearchDecodesPointerCompression(t *testing.T) {
	// "eng.example.com." followed by a pointer back to "example.com." inside
	// the first name.
	first := encodeDomainSearch([]string{"eng.example.com"})
	pointerTarget := 4 // "eng" label (1 length byte + 3) ends at offset 4

	buf := append([]byte(nil), first...)
	buf = append(buf, 0xC0, byte(pointerTarget))

	got, err := decodeDomainSearch(buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "eng.example.com.", got[0])
	assert.Equal(t, "example.com.", got[1])
}

func TestDomainSearchRejectsBadLengthByte(t *testing.T) {
	_, err := decodeDomainSearch([]byte{0x80, 0x01})
	assert.Error(t, err)
}

func TestDomainSearchRejectsTruncatedLabel(t *testing.T) {
	_, err := decodeDomainSearch([]byte{10, 'a', 'b'})
	assert.Error(t, err)
}
