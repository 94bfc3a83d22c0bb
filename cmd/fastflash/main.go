// Command fastflash writes images to fastboot devices.
//
// Usage:
//
//	fastflash --device tcp:192.168.0.10 flash root root.ext4.zst
//	fastflash flash-dir ./release --reboot
//	fastflash inspect --max-download-size 64MiB rootfs.img
//	fastflash getvar max-download-size
//	fastflash reboot --bootloader
//
// The device defaults to $FASTFLASH_DEVICE and downloads go to
// $FASTFLASH_DOWNLOAD_DIR.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp(), env.NewRepository()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
