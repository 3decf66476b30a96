package soundcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdacore/internal/devtable"
)

func TestIoctl_GetSupportedFormats(t *testing.T) {
	ctrl := testController()
	h, err := Open(ctrl, "output0")
	require.NoError(t, err)
	defer h.Close()

	reply, err := h.Ioctl(GetSupportedFormats, nil)
	require.NoError(t, err)
	assert.Equal(t, devtable.Format16BitPCM, reply)
}

func TestIoctl_SetSampleRate_SnapsToNearest(t *testing.T) {
	ctrl := testController()
	h, err := Open(ctrl, "output0")
	require.NoError(t, err)
	defer h.Close()

	reply, err := h.Ioctl(SetSampleRate, uint32(47000))
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), reply)
}

func TestIoctl_SetBufferSizeHint_RejectedAfterInitialize(t *testing.T) {
	ctrl := testController()
	h, err := Open(ctrl, "output0")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.ensureInitialized())
	_, err = h.Ioctl(SetBufferSizeHint, devtable.BufferSizeHint{FragCount: 4, FragSizeExp: 10})
	assert.Error(t, err)
}

func TestIoctl_SetBufferSizeHint_AppliesWhileUninitialized(t *testing.T) {
	ctrl := testController()
	h, err := Open(ctrl, "output0")
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Ioctl(SetBufferSizeHint, devtable.BufferSizeHint{FragCount: 4, FragSizeExp: 10})
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), h.Negotiation().FragSize)
	assert.Equal(t, uint32(4), h.Negotiation().FragCount)
}

func TestIoctl_GetDeviceCapabilities(t *testing.T) {
	ctrl := testController()
	h, err := Open(ctrl, "output0")
	require.NoError(t, err)
	defer h.Close()

	reply, err := h.Ioctl(GetDeviceCapabilities, nil)
	require.NoError(t, err)
	caps := reply.(Capabilities)
	assert.Equal(t, devtable.Output, caps.Type)
	assert.Equal(t, devtable.CapStereo, caps.Capability)
}

func TestIoctl_EnableDevice_StartsAlreadyInitializedHandle(t *testing.T) {
	ctrl := testController()
	h, err := Open(ctrl, "output0")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.ensureInitialized())
	reply, err := h.Ioctl(EnableDevice, true)
	require.NoError(t, err)
	assert.Equal(t, [2]bool{false, true}, reply)
	assert.Equal(t, Running, h.State())
}

func TestIoctl_SetAndGetVolume(t *testing.T) {
	ctrl := testController()
	h, err := Open(ctrl, "output0")
	require.NoError(t, err)
	defer h.Close()

	vol := devtable.Volume{Left: 30, Right: 40}
	reply, err := h.Ioctl(SetVolume, vol)
	require.NoError(t, err)
	assert.Equal(t, vol, reply)

	got, err := h.Ioctl(GetVolume, nil)
	require.NoError(t, err)
	assert.Equal(t, vol, got)
}

func TestIoctl_RootHandleNotSupported(t *testing.T) {
	ctrl := testController()
	h, err := Open(ctrl, "")
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Ioctl(GetSupportedFormats, nil)
	assert.Error(t, err)
}
