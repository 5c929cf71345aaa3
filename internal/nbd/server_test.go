package nbd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory Backend for exercising Server against Client
// end-to-end.
type fakeBackend struct {
	data []byte
}

func (f *fakeBackend) Size() uint64 { return uint64(len(f.data)) }

func (f *fakeBackend) ReadAt(_ context.Context, offset, length uint64) ([]byte, error) {
	out := make([]byte, length)
	copy(out, f.data[offset:offset+length])
	return out, nil
}

func startTestServer(t *testing.T, backend Backend) string {
	return startTestServerWithBlockSize(t, backend, 0)
}

func startTestServerWithBlockSize(t *testing.T, backend Backend, blockSize uint32) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &Server{ExportName: "test", Backend: backend, BlockSize: blockSize}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		l.Close()
	})
	go server.Serve(ctx, l)
	return l.Addr().String()
}

func TestServeReadsMatchBackend(t *testing.T) {
	backend := &fakeBackend{data: append([]byte{0xAB, 0xCD, 0xEF, 0x01}, make([]byte, 60)...)}
	addr := startTestServer(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, "tcp", addr, "test", nil)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, uint64(64), client.VirtualSize())

	data, err := client.ReadAt(ctx, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB, 0xCD, 0xEF, 0x01}, data)

	data, err = client.ReadAt(ctx, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), data)
}

// TestServeRejectsReadExceedingBlockSize exercises the safety net a
// configured BlockSize is supposed to provide: a read spanning more than one
// block-map entry is refused before it ever reaches the Backend.
func TestServeRejectsReadExceedingBlockSize(t *testing.T) {
	backend := &fakeBackend{data: make([]byte, 64)}
	addr := startTestServerWithBlockSize(t, backend, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, "tcp", addr, "test", nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.ReadAt(ctx, 0, 32)
	assert.Error(t, err)

	data, err := client.ReadAt(ctx, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), data)
}
