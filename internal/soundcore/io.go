package soundcore

import (
	"context"

	"hdacore/internal/devtable"
	"hdacore/internal/scode"
)

// DirEntry is one record of a directory read against the root handle:
// {size, file_id, next_offset, type=CharacterDevice, name}. The
// size/padding mechanics of a real on-disk record are out of scope; this
// is the in-memory equivalent a file-system shim would marshal.
type DirEntry struct {
	Name       string
	FileID     int
	NextOffset int
}

// ReadDir returns up to limit entries starting at the handle's current
// cursor, advancing the cursor by the number of entries returned. A nil
// result with an scode.EndOfFile error means the directory has been fully
// consumed.
func (h *Handle) ReadDir(limit int) ([]DirEntry, error) {
	if !h.IsRoot() {
		return nil, scode.New(scode.NotSupported, "ReadDir", "not a directory handle")
	}
	names := h.ctrl.ListNames()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dirOffset >= len(names) {
		return nil, scode.New(scode.EndOfFile, "ReadDir", "directory exhausted")
	}
	end := h.dirOffset + limit
	if limit <= 0 || end > len(names) {
		end = len(names)
	}
	var out []DirEntry
	for i := h.dirOffset; i < end; i++ {
		out = append(out, DirEntry{Name: names[i], FileID: i, NextOffset: i + 1})
	}
	h.dirOffset = end
	return out, nil
}

// Write implements the output I/O path. It fails with AccessDenied against
// Input devices or the root. On first I/O it lazily initializes the
// handle; it loops waiting on the ring's readiness event until at least
// one byte can be written or the timeout/cancellation fires, copying
// across up to two spans and advancing software_offset.
func (h *Handle) Write(ctx context.Context, p []byte, timeoutMs int) (int, error) {
	if h.dev == nil {
		return 0, scode.New(scode.AccessDenied, "Write", "no device bound")
	}
	if h.dev.Type != devtable.Output {
		return 0, scode.New(scode.AccessDenied, "Write", "device is not writable")
	}
	if err := h.ensureInitialized(); err != nil {
		return 0, err
	}
	return h.ioLoop(ctx, p, timeoutMs, true)
}

// Read implements the input I/O path. Against an Output device that
// advertises CapMmap, a call with an empty user buffer returns 0 and no
// error; the mmap window itself is served by ReadMmap.
func (h *Handle) Read(ctx context.Context, p []byte, timeoutMs int, ioOffset uint32) (int, error) {
	if h.dev == nil {
		return 0, scode.New(scode.AccessDenied, "Read", "no device bound")
	}
	if h.dev.Type != devtable.Input {
		if len(p) == 0 && h.dev.Capability&devtable.CapMmap != 0 {
			return 0, nil // callers use ReadMmap for the zero-length mmap path
		}
		return 0, scode.New(scode.AccessDenied, "Read", "device is not readable")
	}
	if err := h.ensureInitialized(); err != nil {
		return 0, err
	}
	return h.ioLoop(ctx, p, timeoutMs, false)
}

// ReadMmap implements the mmap fast path: a moving-window reference into
// the live ring buffer at [ioOffset, ioOffset+size), clamped and
// terminated with EndOfFile past the end. This is documented as a moving
// window, not a snapshot: concurrent DMA activity can change the bytes the
// caller reads before it consumes them.
func (h *Handle) ReadMmap(ioOffset, size uint32) ([]byte, error) {
	if h.dev == nil || h.dev.Capability&devtable.CapMmap == 0 {
		return nil, scode.New(scode.NotSupported, "ReadMmap", "device does not support mmap")
	}
	if err := h.ensureInitialized(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ring == nil {
		return nil, scode.New(scode.InvalidConfiguration, "ReadMmap", "ring not allocated")
	}
	total := h.ring.Size()
	if ioOffset >= total {
		return nil, scode.New(scode.EndOfFile, "ReadMmap", "offset past end of buffer")
	}
	end := ioOffset + size
	if end > total {
		end = total
	}
	return h.ring.BackingSlice()[ioOffset:end], nil
}

// ioLoop is the shared blocking copy loop for Read and Write.
func (h *Handle) ioLoop(ctx context.Context, p []byte, timeoutMs int, isWrite bool) (int, error) {
	total := 0
	first := true
	for total < len(p) {
		h.mu.Lock()
		r := h.ring
		state := h.state
		h.mu.Unlock()
		if r == nil {
			return total, scode.New(scode.InvalidConfiguration, "ioLoop", "ring not allocated")
		}

		if code, errored := r.Wait().Err(); errored {
			return total, scode.Wrap(scode.DeviceIoError, "ioLoop", code)
		}

		var span1, span2 []byte
		h.mu.Lock()
		want := uint32(len(p) - total)
		span1, span2 = r.AcquireSoftwareSpan(want)
		h.mu.Unlock()

		n := copySpans(p[total:], span1, span2, isWrite)
		if n > 0 {
			h.mu.Lock()
			r.CommitSoftware(uint32(n))
			h.mu.Unlock()
			total += n

			if first && state == Initialized {
				first = false
				if err := h.tryStart(); err != nil {
					return total, err
				}
			}
			continue
		}

		if err := waitTimeout(ctx, r.Wait(), timeoutMs); err != nil {
			if code := scode.Of(err); code == scode.Timeout && total > 0 {
				return total, nil // partial completion, not an error
			}
			return total, err
		}
		if timeoutMs == 0 {
			// A zero timeout polls once; if nothing was available, stop.
			return total, nil
		}
	}
	return total, nil
}

// copySpans copies min(len(dst), len(span1)+len(span2)) bytes between dst
// and the two ring spans, in the direction indicated by isWrite (true: user
// buffer -> ring; false: ring -> user buffer). Returns bytes copied.
func copySpans(dst []byte, span1, span2 []byte, isWrite bool) int {
	n := 0
	n += copyOne(dst[n:], span1, isWrite)
	n += copyOne(dst[n:], span2, isWrite)
	return n
}

func copyOne(dst []byte, span []byte, isWrite bool) int {
	if len(span) == 0 || len(dst) == 0 {
		return 0
	}
	if len(span) > len(dst) {
		span = span[:len(dst)]
	}
	if isWrite {
		copy(span, dst[:len(span)])
	} else {
		copy(dst[:len(span)], span)
	}
	return len(span)
}
