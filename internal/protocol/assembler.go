package protocol

import (
	"bytes"

	"github.com/sirupsen/logrus"
)

// Battery monitor stream markers. Frames are delimited, not length-prefixed.
const (
	liveDataStart     = 0xBB
	recordedDataStart = 0xAA
	dataEnd           = 0xEE
)

// maxAssemblerBuffer caps the reassembly buffer. A link that streams garbage
// without ever completing a frame would otherwise grow it without bound.
const maxAssemblerBuffer = 512

// FrameAssembler reassembles delimited frames from the battery monitor's
// notification stream. Notifications are delivered one at a time in order, so
// Push is never called concurrently.
//
// A yielded frame starts at its start marker and excludes the end marker. The
// frame slice aliases the internal buffer and is only valid for the duration
// of the callback.
type FrameAssembler struct {
	buf     []byte
	onFrame func([]byte)
	logger  *logrus.Logger
}

// NewFrameAssembler creates an assembler that hands each complete frame to
// onFrame.
func NewFrameAssembler(onFrame func([]byte), logger *logrus.Logger) *FrameAssembler {
	if logger == nil {
		logger = logrus.New()
	}
	return &FrameAssembler{onFrame: onFrame, logger: logger}
}

// Push appends notification bytes and yields every frame that completes,
// discarding garbage that precedes a frame boundary. The set of yielded
// frames does not depend on how the input is chunked across calls.
func (a *FrameAssembler) Push(data []byte) {
	a.buf = append(a.buf, data...)

	for len(a.buf) > 0 {
		start := frameStart(a.buf)
		end := bytes.IndexByte(a.buf, dataEnd)

		if end >= 0 && (start < 0 || end <= start) {
			// Bytes up to the end marker cannot belong to a frame.
			a.consume(end + 1)
			continue
		}
		if start < 0 || end < 0 {
			break // need more data
		}

		a.onFrame(a.buf[start:end])
		a.consume(end + 1)
	}

	if len(a.buf) > maxAssemblerBuffer {
		a.logger.WithField("size", len(a.buf)).Warn("Frame buffer discarded without a complete frame")
		a.buf = a.buf[:0]
	}
}

// Reset discards any partially assembled frame. Called when a new link is
// established so leftover bytes from the previous session cannot prefix the
// first frame of the new one.
func (a *FrameAssembler) Reset() {
	a.buf = a.buf[:0]
}

func (a *FrameAssembler) consume(n int) {
	a.buf = append(a.buf[:0], a.buf[n:]...)
}

// frameStart returns the earliest index of either start marker, -1 if absent.
func frameStart(buf []byte) int {
	live := bytes.IndexByte(buf, liveDataStart)
	rec := bytes.IndexByte(buf, recordedDataStart)
	switch {
	case live < 0:
		return rec
	case rec < 0:
		return live
	case live < rec:
		return live
	default:
		return rec
	}
}
