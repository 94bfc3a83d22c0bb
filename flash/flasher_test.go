package flash_test

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-fastflash/flash"
	"github.com/moffa90/go-fastflash/flash/flashtest"
	"github.com/moffa90/go-fastflash/protocol"
	"github.com/moffa90/go-fastflash/sparse"
)

// recordingLogger keeps every message for assertions.
type recordingLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *recordingLogger) Debug(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *recordingLogger) Info(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *recordingLogger) Error(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorMsgs = append(l.errorMsgs, msg)
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

// testImage mixes every chunk type. Its largest chunk is a 3-block raw chunk
// of 12+1536 bytes.
func testImage() []byte {
	return flashtest.NewImage(512).
		Raw(pattern(3*512, 1)).
		DontCare(100).
		Fill(0xDEADBEEF, 50).
		CRC32(0x12345678).
		Raw(pattern(512, 2)).
		Raw(pattern(2*512, 3)).
		DontCare(7).
		Fill(0, 3).
		Raw(pattern(300, 4)).
		Bytes()
}

// downloads returns the sizes announced by download commands.
func downloads(t *testing.T, dev *flashtest.Device) []uint32 {
	t.Helper()

	var sizes []uint32
	for _, cmd := range dev.Commands() {
		hex, ok := strings.CutPrefix(cmd, protocol.CmdDownload+":")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(hex, 16, 32)
		require.NoError(t, err)
		sizes = append(sizes, uint32(n))
	}
	return sizes
}

// smallRawBlocks frames split raw images in 256-byte blocks so a 1000-byte
// device limit carries three blocks per unit.
func smallRawBlocks() flash.Option {
	return flash.WithRawBlockSize(256)
}

func collectProgress(events *[]flash.Progress) flash.Option {
	return flash.WithProgressCallback(func(p flash.Progress) {
		*events = append(*events, p)
	})
}

func assertProgress(t *testing.T, events []flash.Progress, total int) {
	t.Helper()

	require.Len(t, events, total)
	var lastBytes int64
	for i, p := range events {
		assert.Equal(t, i+1, p.CurrentUnit, "event %d", i)
		assert.Equal(t, total, p.TotalUnits, "event %d", i)
		assert.Greater(t, p.BytesWritten, lastBytes, "event %d", i)
		lastBytes = p.BytesWritten
	}
	if total > 0 {
		assert.Equal(t, float64(100), events[total-1].Percentage)
	}
}

func TestNew(t *testing.T) {
	assert.Panics(t, func() { flash.New(nil) })

	f := flash.New(flashtest.NewDevice(4096),
		flash.WithProgressCallback(func(flash.Progress) {}),
		flash.WithLogger(&recordingLogger{}),
		flash.WithMaxDownloadSize(1024),
		flash.WithRebootAfter(true),
		flash.WithCopyBufferSize(64),
	)
	assert.NotNil(t, f)
}

func TestFlashSparseRoundTrip(t *testing.T) {
	image := testImage()
	want, err := flashtest.Expand(image)
	require.NoError(t, err)

	for _, limit := range []uint32{1588, 2048, 4096, 1 << 20} {
		t.Run(strconv.Itoa(int(limit)), func(t *testing.T) {
			dev := flashtest.NewDevice(limit)
			var events []flash.Progress
			f := flash.New(dev, collectProgress(&events), flash.WithCopyBufferSize(100))

			require.NoError(t, f.Flash(context.Background(), "root", bytes.NewReader(image)))

			part := dev.Partition("root")
			require.NotNil(t, part)
			assert.Equal(t, want, part.Blocks)
			assert.Equal(t, uint32(512), part.BlockSize)
			assert.Empty(t, part.Raw)

			sizes := downloads(t, dev)
			for _, s := range sizes {
				assert.LessOrEqual(t, s, limit)
			}
			assert.Equal(t, len(sizes), part.Commits)
			assertProgress(t, events, len(sizes))
			for _, p := range events {
				assert.Equal(t, flash.SparseSplit, p.Strategy)
				assert.Equal(t, "root", p.Partition)
			}
			assert.Zero(t, dev.Overlaps())
		})
	}
}

func TestFlashCommandSequence(t *testing.T) {
	dev := flashtest.NewDevice(1 << 20)
	f := flash.New(dev)

	require.NoError(t, f.Flash(context.Background(), "boot", bytes.NewReader(testImage())))

	cmds := dev.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "getvar:max-download-size", cmds[0])
	assert.True(t, strings.HasPrefix(cmds[1], "download:"))
	assert.Equal(t, "flash:boot", cmds[2])
}

func TestFlashRawDirect(t *testing.T) {
	data := pattern(1000, 9)
	dev := flashtest.NewDevice(1000)
	var events []flash.Progress
	f := flash.New(dev, collectProgress(&events))

	require.NoError(t, f.Flash(context.Background(), "uboot", bytes.NewReader(data)))

	assert.Equal(t, []string{"getvar:max-download-size", "download:000003e8", "flash:uboot"}, dev.Commands())
	part := dev.Partition("uboot")
	assert.Equal(t, data, part.Raw)
	assert.Empty(t, part.Blocks)

	assertProgress(t, events, 1)
	assert.Equal(t, flash.RawDirect, events[0].Strategy)
}

func TestFlashRawSplit(t *testing.T) {
	data := pattern(20000, 5)
	dev := flashtest.NewDevice(10000)
	var events []flash.Progress
	f := flash.New(dev, collectProgress(&events))

	require.NoError(t, f.Flash(context.Background(), "root", bytes.NewReader(data)))

	// two 4096-byte blocks per unit; the last unit is padded to a whole block
	assert.Equal(t, []uint32{
		sparse.FileHeaderSize + sparse.ChunkHeaderSize + 8192,
		sparse.RawUnitOverhead + 8192,
		sparse.RawUnitOverhead + 4096,
	}, downloads(t, dev))

	part := dev.Partition("root")
	require.NotNil(t, part)
	assert.Empty(t, part.Raw, "every unit is placed by its sparse header")
	assert.Equal(t, uint32(sparse.DefaultBlockSize), part.BlockSize)
	assert.Equal(t, 3, part.Commits)

	written := part.Blocks.Bytes(part.BlockSize)
	require.Len(t, written, 5*sparse.DefaultBlockSize)
	assert.Equal(t, data, written[:len(data)])
	assert.Equal(t, make([]byte, len(written)-len(data)), written[len(data):])

	assertProgress(t, events, 3)
	assert.Equal(t, flash.RawSplit, events[0].Strategy)
}

func TestFlashRawSplitBlockSize(t *testing.T) {
	data := pattern(2500, 6)
	dev := flashtest.NewDevice(1000)
	f := flash.New(dev, smallRawBlocks())

	require.NoError(t, f.Flash(context.Background(), "root", bytes.NewReader(data)))

	assert.Equal(t, []uint32{808, 820, 820, 308}, downloads(t, dev))
	part := dev.Partition("root")
	assert.Equal(t, uint32(256), part.BlockSize)
	assert.Equal(t, data, part.Blocks.Bytes(256)[:len(data)])
}

func TestFlashRawSplitLimitTooSmall(t *testing.T) {
	// 1000 bytes cannot hold one 4096-byte block
	dev := flashtest.NewDevice(1000)
	err := flash.New(dev).Flash(context.Background(), "root", bytes.NewReader(pattern(2500, 1)))

	assert.ErrorIs(t, err, sparse.ErrUnsplittableChunk)
	var se *flash.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, flash.StageSplit, se.Stage)
	assert.Empty(t, downloads(t, dev))
}

func TestFlashEmptySource(t *testing.T) {
	dev := flashtest.NewDevice(1000)
	var events []flash.Progress
	f := flash.New(dev, collectProgress(&events))

	require.NoError(t, f.Flash(context.Background(), "root", bytes.NewReader(nil)))

	assert.Equal(t, []string{"getvar:max-download-size"}, dev.Commands())
	assert.Nil(t, dev.Partition("root"))
	assert.Empty(t, events)
}

func TestFlashSparseImageWithoutChunks(t *testing.T) {
	dev := flashtest.NewDevice(1000)
	f := flash.New(dev)

	require.NoError(t, f.Flash(context.Background(), "root", bytes.NewReader(flashtest.NewImage(4096).Bytes())))
	assert.Empty(t, downloads(t, dev))
}

func TestFlashUnsplittableChunk(t *testing.T) {
	// one raw chunk of 12+1024 bytes needs 1076 with the unit overhead
	image := flashtest.NewImage(512).Raw(pattern(1024, 1)).Bytes()

	t.Run("fits exactly", func(t *testing.T) {
		dev := flashtest.NewDevice(1076)
		require.NoError(t, flash.New(dev).Flash(context.Background(), "root", bytes.NewReader(image)))
		assert.Equal(t, []uint32{1076 - sparse.ChunkHeaderSize}, downloads(t, dev))
	})

	t.Run("one byte short", func(t *testing.T) {
		dev := flashtest.NewDevice(1075)
		err := flash.New(dev).Flash(context.Background(), "root", bytes.NewReader(image))

		require.Error(t, err)
		assert.ErrorIs(t, err, sparse.ErrUnsplittableChunk)

		var se *flash.StageError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, flash.StageSplit, se.Stage)
		assert.Empty(t, downloads(t, dev))
	})
}

func TestFlashCorruptImage(t *testing.T) {
	image := testImage()
	image[4] = 9 // major version

	dev := flashtest.NewDevice(1 << 20)
	err := flash.New(dev).Flash(context.Background(), "root", bytes.NewReader(image))

	assert.ErrorIs(t, err, sparse.ErrCorruptHeader)
	var se *flash.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, flash.StageParse, se.Stage)
	assert.Contains(t, err.Error(), "parse failed")
	assert.Empty(t, downloads(t, dev))
}

func TestFlashQueryFailure(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr error
	}{
		{name: "variable missing", vars: map[string]string{}, wantErr: flash.ErrRejected},
		{name: "not a number", vars: map[string]string{protocol.VarMaxDownloadSize: "lots"}},
		{name: "zero", vars: map[string]string{protocol.VarMaxDownloadSize: "0x0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := flashtest.NewDevice(0)
			dev.Vars = tt.vars

			err := flash.New(dev).Flash(context.Background(), "root", bytes.NewReader(testImage()))
			require.Error(t, err)

			var se *flash.StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, flash.StageQuery, se.Stage)
			assert.Zero(t, se.Unit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestFlashSessionFailures(t *testing.T) {
	unresponsive := errors.New("usb: device disconnected")

	tests := []struct {
		name      string
		failOp    string
		failCall  int
		wantStage flash.Stage
		wantUnit  int
	}{
		{name: "download rejected on second unit", failOp: flashtest.OpDownload, failCall: 2, wantStage: flash.StageUpload, wantUnit: 2},
		{name: "write fails on first unit", failOp: flashtest.OpWrite, failCall: 1, wantStage: flash.StageUpload, wantUnit: 1},
		{name: "finish fails on third unit", failOp: flashtest.OpFinish, failCall: 3, wantStage: flash.StageUpload, wantUnit: 3},
		{name: "commit fails on second unit", failOp: flashtest.OpFlash, failCall: 2, wantStage: flash.StageCommit, wantUnit: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := flashtest.NewDevice(1000)
			dev.Fail = func(op string, n int) error {
				if op == tt.failOp && n == tt.failCall {
					return unresponsive
				}
				return nil
			}
			var events []flash.Progress
			f := flash.New(dev, collectProgress(&events), smallRawBlocks())

			err := f.Flash(context.Background(), "root", bytes.NewReader(pattern(3000, 1)))
			require.Error(t, err)
			assert.ErrorIs(t, err, unresponsive)

			var se *flash.StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantStage, se.Stage)
			assert.Equal(t, tt.wantUnit, se.Unit)
			assert.Len(t, events, tt.wantUnit-1, "no progress for the failed unit")
		})
	}
}

func TestFlashDeviceRejectsOversizedDownload(t *testing.T) {
	dev := flashtest.NewDevice(1000)
	dev.Limit = 500 // reports 1000, accepts 500

	err := flash.New(dev).Flash(context.Background(), "root", bytes.NewReader(pattern(800, 1)))
	assert.ErrorIs(t, err, flash.ErrRejected)
	assert.True(t, protocol.IsProtocolError(err))
}

func TestFlashMaxDownloadSizeCap(t *testing.T) {
	image := testImage()
	dev := flashtest.NewDevice(1 << 20)
	f := flash.New(dev, flash.WithMaxDownloadSize(2048))

	limit, err := f.MaxDownloadSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(2048), limit)

	require.NoError(t, f.Flash(context.Background(), "root", bytes.NewReader(image)))
	sizes := downloads(t, dev)
	assert.Greater(t, len(sizes), 1)
	for _, s := range sizes {
		assert.LessOrEqual(t, s, uint32(2048))
	}

	// a cap above the device limit has no effect
	f = flash.New(flashtest.NewDevice(4096), flash.WithMaxDownloadSize(1<<30))
	limit, err = f.MaxDownloadSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), limit)
}

func TestFlashProgressCallbackPanic(t *testing.T) {
	logger := &recordingLogger{}
	calls := 0
	f := flash.New(flashtest.NewDevice(1000),
		flash.WithLogger(logger),
		flash.WithProgressCallback(func(flash.Progress) {
			calls++
			panic("progress sink closed")
		}),
		smallRawBlocks(),
	)

	require.NoError(t, f.Flash(context.Background(), "root", bytes.NewReader(pattern(2304, 1))))
	assert.Equal(t, 3, calls)
	assert.Len(t, logger.errorMsgs, 3)
	assert.Contains(t, logger.errorMsgs[0], "progress callback panicked")
}

func TestFlashCancelledBetweenUnits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := flashtest.NewDevice(1000)
	f := flash.New(dev, smallRawBlocks(), flash.WithProgressCallback(func(p flash.Progress) {
		if p.CurrentUnit == 1 {
			cancel()
		}
	}))

	err := f.Flash(ctx, "root", bytes.NewReader(pattern(2304, 1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var se *flash.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Unit)
	assert.Equal(t, 1, dev.Partition("root").Commits)
}

func TestFlashRebootAfter(t *testing.T) {
	dev := flashtest.NewDevice(1000)
	f := flash.New(dev, flash.WithRebootAfter(true))

	require.NoError(t, f.Flash(context.Background(), "root", bytes.NewReader(pattern(10, 1))))
	assert.Equal(t, 1, dev.Reboots())

	cmds := dev.Commands()
	assert.Equal(t, "reboot", cmds[len(cmds)-1])
}

func TestFlashRebootFailure(t *testing.T) {
	dev := flashtest.NewDevice(1000)
	dev.Fail = func(op string, _ int) error {
		if op == flashtest.OpReboot {
			return flash.ErrDeviceUnresponsive
		}
		return nil
	}

	err := flash.New(dev, flash.WithRebootAfter(true)).Flash(context.Background(), "root", bytes.NewReader(pattern(10, 1)))

	var se *flash.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, flash.StageReboot, se.Stage)
	assert.ErrorIs(t, err, flash.ErrDeviceUnresponsive)

	err = flash.New(dev).Reboot(context.Background())
	assert.ErrorIs(t, err, flash.ErrDeviceUnresponsive)
}

// failingSource fails every ReadAt after the first n.
type failingSource struct {
	*bytes.Reader
	n int
}

func (s *failingSource) ReadAt(p []byte, off int64) (int, error) {
	if s.n == 0 {
		return 0, errors.New("i/o error")
	}
	s.n--
	return s.Reader.ReadAt(p, off)
}

func TestFlashSourceReadFailure(t *testing.T) {
	dev := flashtest.NewDevice(1000)
	src := &failingSource{Reader: bytes.NewReader(pattern(100, 1)), n: 1}

	err := flash.New(dev).Flash(context.Background(), "root", src)
	assert.ErrorIs(t, err, sparse.ErrReadFailed)

	var se *flash.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, flash.StageUpload, se.Stage)

	// the half-sent upload is abandoned so the session can be recovered
	assert.Equal(t, 1, dev.Aborts())
	require.NoError(t, flash.New(dev).Reboot(context.Background()))
	assert.Zero(t, dev.Overlaps())
}

func TestFlashInvalidArguments(t *testing.T) {
	f := flash.New(flashtest.NewDevice(1000))

	assert.Error(t, f.Flash(context.Background(), "root", nil))
	assert.Error(t, f.Flash(context.Background(), "", bytes.NewReader(nil)))
}

func TestFlashSerializesConcurrentCalls(t *testing.T) {
	image := testImage()
	dev := flashtest.NewDevice(2048)
	f := flash.New(dev)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.Flash(context.Background(), "part"+strconv.Itoa(i), bytes.NewReader(image))
		}(i)
	}
	wg.Wait()

	want, err := flashtest.Expand(image)
	require.NoError(t, err)
	for i, err := range errs {
		require.NoError(t, err)
		assert.Equal(t, want, dev.Partition("part"+strconv.Itoa(i)).Blocks)
	}
	assert.Zero(t, dev.Overlaps())
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name         string
		data         []byte
		limit        uint32
		wantStrategy flash.Strategy
		wantUnits    int
	}{
		{name: "raw fits", data: pattern(5000, 1), limit: 5000, wantStrategy: flash.RawDirect, wantUnits: 1},
		{name: "raw one byte over", data: pattern(5001, 1), limit: 5000, wantStrategy: flash.RawSplit, wantUnits: 2},
		{name: "empty", data: nil, limit: 1000, wantStrategy: flash.RawDirect, wantUnits: 0},
		{name: "sparse single unit", data: testImage(), limit: 1 << 20, wantStrategy: flash.SparseSplit, wantUnits: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := flashtest.NewDevice(tt.limit)
			plan, err := flash.New(dev).Plan(context.Background(), bytes.NewReader(tt.data))
			require.NoError(t, err)

			assert.Equal(t, tt.wantStrategy, plan.Strategy)
			assert.Len(t, plan.Units, tt.wantUnits)
			assert.Equal(t, tt.limit, plan.MaxDownloadSize)
			assert.Equal(t, int64(len(tt.data)), plan.SourceSize)
			assert.Equal(t, tt.wantStrategy == flash.SparseSplit, plan.Image != nil)
			assert.Empty(t, downloads(t, dev), "planning uploads nothing")
		})
	}
}

func TestNewPlan(t *testing.T) {
	plan, err := flash.NewPlan(bytes.NewReader(testImage()), 2048)
	require.NoError(t, err)
	assert.Equal(t, flash.SparseSplit, plan.Strategy)
	assert.Greater(t, len(plan.Units), 1)
	for _, u := range plan.Units {
		assert.LessOrEqual(t, u.Size(), int64(2048))
	}

	_, err = flash.NewPlan(bytes.NewReader(testImage()), 0)
	assert.Error(t, err)
	_, err = flash.NewPlan(nil, 2048)
	assert.Error(t, err)
}

func TestPlanTotalBytes(t *testing.T) {
	plan, err := flash.New(flashtest.NewDevice(5000)).Plan(context.Background(), bytes.NewReader(pattern(5001, 1)))
	require.NoError(t, err)
	require.Len(t, plan.Units, 2)

	// 4096 + 905 payload bytes, the second range padded to a whole block
	assert.Equal(t, int64(sparse.FileHeaderSize+sparse.ChunkHeaderSize+4096+sparse.RawUnitOverhead+4096), plan.TotalBytes())
	assert.Equal(t, int64(3191), plan.Units[1].Pad)

	plan, err = flash.New(flashtest.NewDevice(5000)).Plan(context.Background(), bytes.NewReader(pattern(5000, 1)))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), plan.TotalBytes(), "a direct raw unit has no framing")
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "raw-direct", flash.RawDirect.String())
	assert.Equal(t, "raw-split", flash.RawSplit.String())
	assert.Equal(t, "sparse-split", flash.SparseSplit.String())
}

func TestStageError(t *testing.T) {
	err := &flash.StageError{Stage: flash.StageCommit, Unit: 4, Err: flash.ErrRejected}
	assert.Equal(t, "commit failed at unit 4: rejected by device", err.Error())
	assert.ErrorIs(t, err, flash.ErrRejected)

	err = &flash.StageError{Stage: flash.StageQuery, Err: flash.ErrDeviceUnresponsive}
	assert.Equal(t, "size query failed: device unresponsive", err.Error())
}
