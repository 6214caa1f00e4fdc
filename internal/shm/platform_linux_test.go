//go:build linux

package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestObjectRemapPreservesBytes(t *testing.T) {
	obj, err := CreateObject("sealmem-test", 64)
	require.NoError(t, err)
	defer obj.Close()

	rw, err := obj.Map(ProtReadWrite)
	require.NoError(t, err)
	require.Len(t, rw, 64)
	for i := range rw {
		rw[i] = byte(i * 3)
	}
	require.NoError(t, Unmap(rw))
	require.NoError(t, obj.DenyWrites())

	ro, err := obj.Map(ProtReadOnly)
	require.NoError(t, err)
	defer Unmap(ro)
	for i := range ro {
		assert.Equal(t, byte(i*3), ro[i])
	}
}

func TestDenyWritesLocksSeals(t *testing.T) {
	require.NoError(t, futureWriteSeal())
	obj, err := CreateObject("sealmem-test", 16)
	require.NoError(t, err)
	defer obj.Close()
	require.NoError(t, obj.DenyWrites())

	seals, err := unix.FcntlInt(uintptr(obj.fd), unix.F_GET_SEALS, 0)
	require.NoError(t, err)
	assert.NotZero(t, seals&unix.F_SEAL_FUTURE_WRITE)
	assert.NotZero(t, seals&unix.F_SEAL_SEAL)
	assert.Zero(t, seals&unix.F_SEAL_WRITE)

	_, err = unix.Write(obj.fd, []byte("x"))
	assert.ErrorIs(t, err, unix.EPERM)
	// F_SEAL_SEAL refuses any further seal
	assert.ErrorIs(t, obj.DenyWrites(), unix.EPERM)
}

func TestSealedObjectRejectsWritableViewsAndReprotection(t *testing.T) {
	obj, err := CreateObject("sealmem-test", 16)
	require.NoError(t, err)
	defer obj.Close()
	require.NoError(t, obj.DenyWrites())

	_, err = obj.Map(ProtReadWrite)
	assert.Error(t, err)

	ro, err := obj.Map(ProtReadOnly)
	require.NoError(t, err)
	defer Unmap(ro)
	assert.Error(t, unix.Mprotect(ro, unix.PROT_READ|unix.PROT_WRITE))
}

func TestCreateObjectRejectsBadSize(t *testing.T) {
	_, err := CreateObject("sealmem-test", 0)
	assert.Error(t, err)
	_, err = CreateObject("sealmem-test", -5)
	assert.Error(t, err)
}

func TestClosedObject(t *testing.T) {
	obj, err := CreateObject("sealmem-test", 8)
	require.NoError(t, err)
	require.NoError(t, obj.Close())
	require.NoError(t, obj.Close())

	_, err = obj.Map(ProtReadOnly)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, obj.DenyWrites(), ErrClosed)
	assert.ErrorIs(t, Unmap(nil), ErrEmptyView)
}

func TestProtectionString(t *testing.T) {
	assert.Equal(t, "rw", ProtReadWrite.String())
	assert.Equal(t, "r", ProtReadOnly.String())
	assert.Equal(t, "rx", ProtReadExec.String())
	assert.Equal(t, "invalid", Protection(9).String())
	assert.True(t, ProtReadWrite.Writable())
	assert.False(t, ProtReadExec.Writable())
	assert.False(t, Protection(-1).Valid())
}
