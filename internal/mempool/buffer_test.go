package mempool

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBufferIsEmpty(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("leftover")
	PutBuffer(buf)

	for range 4 {
		b := GetBuffer()
		assert.Zero(t, b.Len(), "pooled buffers are reset")
		PutBuffer(b)
	}
}

func TestPutBufferNilAndOversized(t *testing.T) {
	assert.NotPanics(t, func() { PutBuffer(nil) })

	big := bytes.NewBuffer(make([]byte, 0, MaxPooledSize+1))
	assert.NotPanics(t, func() { PutBuffer(big) })
}

func TestReadAll(t *testing.T) {
	buf, err := ReadAll(strings.NewReader("png bytes"))
	require.NoError(t, err)
	assert.Equal(t, "png bytes", buf.String())
	PutBuffer(buf)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestReadAllError(t *testing.T) {
	buf, err := ReadAll(failingReader{})
	assert.Nil(t, buf)
	assert.ErrorContains(t, err, "disk gone")
}

func BenchmarkReadAll(b *testing.B) {
	payload := bytes.Repeat([]byte{0x89}, 256<<10)
	b.ReportAllocs()
	for b.Loop() {
		buf, err := ReadAll(bytes.NewReader(payload))
		if err != nil {
			b.Fatal(err)
		}
		PutBuffer(buf)
	}
}
