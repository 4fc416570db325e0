package transcode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_NullMapsToNull(t *testing.T) {
	c := Default()

	w, err := c.ToWide(nil)
	require.NoError(t, err)
	assert.Nil(t, w)

	n, err := c.ToNarrow(nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestCodec_EmptyIsNotNull(t *testing.T) {
	c := Default()

	w, err := c.ToWide(Narrow{})
	require.NoError(t, err)
	assert.NotNil(t, w)
	assert.Empty(t, w)
}

func TestCodec_RoundTrip(t *testing.T) {
	c := Default()
	inputs := []string{
		"svc/host",
		"hōst",
		"HTTP/server.domain.com@DOMAIN.COM",
		"日本語",
		"emoji \U0001F512 lock",
		"",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			w, err := c.ToWide(Narrow(in))
			require.NoError(t, err)
			assert.Equal(t, in, w.String())

			n, err := c.ToNarrow(w)
			require.NoError(t, err)
			assert.Equal(t, in, string(n))
		})
	}
}

func TestCodec_InvalidUTF8(t *testing.T) {
	_, err := Default().ToWide(Narrow{0xff, 0xfe, 'a'})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConversion))

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, "to wide", convErr.Op)
}

func TestCodec_UnpairedSurrogate(t *testing.T) {
	c := Default()

	_, err := c.ToNarrow(Wide{'a', 0xD800})
	assert.ErrorIs(t, err, ErrConversion)

	_, err = c.ToNarrow(Wide{0xDC00, 'a'})
	assert.ErrorIs(t, err, ErrConversion)

	n, err := c.ToNarrow(Wide{0xD83D, 0xDD12})
	require.NoError(t, err)
	assert.Equal(t, "\U0001F512", string(n))
}

func TestCodec_Windows1252(t *testing.T) {
	c, err := NewCodec("windows-1252")
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", c.Name())

	n, err := c.NarrowString("café")
	require.NoError(t, err)
	assert.Equal(t, Narrow{'c', 'a', 'f', 0xe9}, n)

	w, err := c.ToWide(n)
	require.NoError(t, err)
	assert.Equal(t, "café", w.String())

	// U+014D has no mapping in windows-1252.
	_, err = c.ToNarrow(WideString("hōst"))
	assert.ErrorIs(t, err, ErrConversion)
}

func TestNewCodec_Unknown(t *testing.T) {
	_, err := NewCodec("klingon-8")
	assert.Error(t, err)
}

func TestNewCodec_DefaultName(t *testing.T) {
	c, err := NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, "utf-8", c.Name())
}

func TestRelease(t *testing.T) {
	n := Narrow("secret")
	Release(n)
	assert.Equal(t, Narrow{0, 0, 0, 0, 0, 0}, n)

	w := WideString("pw")
	ReleaseWide(w)
	assert.Equal(t, Wide{0, 0}, w)

	// Null values are accepted.
	Release(nil)
	ReleaseWide(nil)
}
