// Package flash writes images to device partitions through a bootloader Session.
//
// # Overview
//
// A flash runs the following sequence:
//   - Query the device max-download-size
//   - Parse the source as an Android sparse image
//   - Choose a strategy: RawDirect, RawSplit or SparseSplit
//   - Download each unit, commit it with flash:<partition>, report progress
//
// Sources that are not sparse images are sent raw in a single download when
// they fit. Larger ones are cut into block-aligned ranges, each framed as a
// sparse image that places it at its offset. Sparse images are repackaged
// into units that each carry a valid sparse header, placed at their absolute
// block offset with a leading don't-care chunk.
//
// # Basic Usage
//
//	transport, err := fastboot.DialTCP(ctx, "192.168.0.10:5554")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer transport.Close()
//
//	src, err := source.Open("rootfs.ext4.img")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//
//	f := flash.New(fastboot.New(transport))
//	if err := f.Flash(ctx, "root", src); err != nil {
//	    log.Fatal(err)
//	}
//
// # Progress Tracking
//
// The callback runs once per committed unit, on the calling goroutine:
//
//	f := flash.New(session,
//	    flash.WithProgressCallback(func(p flash.Progress) {
//	        fmt.Printf("%s: %d/%d\n", p.Partition, p.CurrentUnit, p.TotalUnits)
//	    }),
//	)
//
// # Configuration Options
//
//	f := flash.New(session,
//	    flash.WithProgressCallback(progressFunc),
//	    flash.WithLogger(myLogger),
//	    flash.WithMaxDownloadSize(64<<20),
//	    flash.WithRebootAfter(true),
//	)
//
// # Error Handling
//
// Every failure is a *StageError naming the stage that failed. Session errors
// wrap ErrDeviceUnresponsive, ErrRejected or ErrUploadOverflow; source errors
// wrap the sparse package sentinels:
//
//	err := f.Flash(ctx, "boot", src)
//	var se *flash.StageError
//	if errors.As(err, &se) {
//	    fmt.Printf("failed during %s\n", se.Stage)
//	}
//	if errors.Is(err, sparse.ErrUnsplittableChunk) {
//	    // a chunk is larger than the device accepts in one download
//	}
//
// No command is retried. A failed or cancelled flash leaves the partition
// partially written and the device should be rebooted before further use.
//
// # Testing
//
// Package flashtest provides an in-memory Session that decodes the sparse
// units it receives, so tests can compare the written blocks with the source.
package flash
