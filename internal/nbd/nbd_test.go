package nbd

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBlockStatusDescriptors(t *testing.T) {
	var body []byte
	body = binary.BigEndian.AppendUint32(body, 7) // context id
	body = binary.BigEndian.AppendUint32(body, 4096)
	body = binary.BigEndian.AppendUint32(body, 0) // data
	body = binary.BigEndian.AppendUint32(body, 8192)
	body = binary.BigEndian.AppendUint32(body, blockStatusFlagHole)

	extents, err := decodeBlockStatus(body, 7, 1<<20)
	require.NoError(t, err)
	require.Len(t, extents, 2)
	assert.Equal(t, uint64(1<<20), extents[0].Offset)
	assert.Equal(t, uint64(4096), extents[0].Length)
	assert.True(t, extents[0].Data)
	assert.Equal(t, uint64(1<<20)+4096, extents[1].Offset)
	assert.Equal(t, uint64(8192), extents[1].Length)
	assert.False(t, extents[1].Data)
}

func TestDecodeBlockStatusWrongContextIsIgnored(t *testing.T) {
	var body []byte
	body = binary.BigEndian.AppendUint32(body, 3)
	body = binary.BigEndian.AppendUint32(body, 4096)
	body = binary.BigEndian.AppendUint32(body, 0)

	extents, err := decodeBlockStatus(body, 7, 0)
	assert.NoError(t, err)
	assert.Nil(t, extents)
}

func TestDialWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	dial := func(ctx context.Context) (net.Conn, error) {
		calls++
		client, _ := net.Pipe()
		return client, nil
	}
	conn, err := DialWithRetry(context.Background(), dial)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 1, calls)
}

func TestDialWithRetryGivesUpOnNonRefusedError(t *testing.T) {
	calls := 0
	dial := func(ctx context.Context) (net.Conn, error) {
		calls++
		return nil, errors.New("no such host")
	}
	_, err := DialWithRetry(context.Background(), dial)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	_, ok := err.(NbdConnectError)
	assert.True(t, ok)
}

func TestDialWithRetryRetriesConnectionRefused(t *testing.T) {
	calls := 0
	dial := func(ctx context.Context) (net.Conn, error) {
		calls++
		if calls < 3 {
			return nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
		}
		client, _ := net.Pipe()
		return client, nil
	}
	conn, err := DialWithRetry(context.Background(), dial)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 3, calls)
}

func TestDialWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	dial := func(ctx context.Context) (net.Conn, error) {
		calls++
		return nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	}
	start := time.Now()
	_, err := DialWithRetry(context.Background(), dial)
	assert.Error(t, err)
	assert.Equal(t, DialRetryAttempts, calls)
	assert.GreaterOrEqual(t, time.Since(start), (DialRetryAttempts-1)*DialRetryBackoff)
}
