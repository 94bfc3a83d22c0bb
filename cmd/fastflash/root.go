package main

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-fastflash/fastboot"
	"github.com/moffa90/go-fastflash/flash"
	"github.com/moffa90/go-fastflash/internal/logging"
	"github.com/moffa90/go-fastflash/source"
)

// Environment variables providing flag defaults.
const (
	envDevice      = "FASTFLASH_DEVICE"
	envDownloadDir = "FASTFLASH_DOWNLOAD_DIR"
	envAWSRegion   = "AWS_REGION"
)

// app holds the global flags and shared services of every command.
type app struct {
	device          string
	verbose         bool
	maxDownloadSize string
	downloadDir     string
	s3Region        string

	logger log.Logger

	// dial connects to the device; replaced in tests
	dial func(ctx context.Context, addr string) (session, error)
}

// session is a connected device.
type session interface {
	flash.Session
	Erase(ctx context.Context, partition string) error
	RebootBootloader(ctx context.Context) error
	Close() error
}

type tcpSession struct {
	*fastboot.Client
	transport *fastboot.TCPTransport
}

func (s tcpSession) Close() error {
	return s.transport.Close()
}

func newApp() *app {
	a := &app{logger: log.NewLogger()}
	a.dial = a.dialTCP
	return a
}

func newRootCmd(a *app, envRepo env.Repository) *cobra.Command {
	root := &cobra.Command{
		Use:           "fastflash",
		Short:         "Flash images to fastboot devices",
		Long:          "Flash raw and Android sparse images to fastboot devices, splitting them to fit the device download limit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger.EnableDebugLog(a.verbose)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.device, "device", envRepo.Get(envDevice), "device address, tcp:<host>[:port] (env "+envDevice+")")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&a.maxDownloadSize, "max-download-size", "", "cap the download size, e.g. 64MiB")
	flags.StringVar(&a.downloadDir, "download-dir", envRepo.Get(envDownloadDir), "directory for downloaded images (env "+envDownloadDir+")")
	flags.StringVar(&a.s3Region, "s3-region", envRepo.Get(envAWSRegion), "region of s3:// references (env "+envAWSRegion+")")

	root.AddCommand(
		newFlashCmd(a),
		newFlashDirCmd(a),
		newInspectCmd(a),
		newGetVarCmd(a),
		newEraseCmd(a),
		newRebootCmd(a),
	)
	return root
}

// parseDevice turns tcp:<host>[:port] into a dial address.
func parseDevice(device string) (string, error) {
	if device == "" {
		return "", fmt.Errorf("no device given, use --device or set %s", envDevice)
	}

	addr, ok := strings.CutPrefix(device, "tcp:")
	if !ok || addr == "" {
		return "", fmt.Errorf("unsupported device %q, expected tcp:<host>[:port]", device)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(fastboot.DefaultTCPPort))
	}
	return addr, nil
}

// parseSize parses a human size such as 512MiB or 64m.
func parseSize(s string) (uint32, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return uint32(n), nil
}

func (a *app) dialTCP(ctx context.Context, addr string) (session, error) {
	transport, err := fastboot.DialTCP(ctx, addr)
	if err != nil {
		return nil, err
	}
	client := fastboot.New(transport, fastboot.WithLogger(logging.New(a.logger)))
	return tcpSession{Client: client, transport: transport}, nil
}

func (a *app) connect(ctx context.Context) (session, error) {
	addr, err := parseDevice(a.device)
	if err != nil {
		return nil, err
	}

	a.logger.Debugf("Connecting to %s", addr)
	s, err := a.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return s, nil
}

func (a *app) fetcher() *source.Fetcher {
	return source.NewFetcher(
		source.WithDownloadDir(a.downloadDir),
		source.WithLogger(a.logger),
		source.WithS3Region(a.s3Region),
	)
}

func (a *app) flasher(s flash.Session, reboot bool) (*flash.Flasher, error) {
	opts := []flash.Option{
		flash.WithLogger(logging.New(a.logger)),
		flash.WithRebootAfter(reboot),
		flash.WithProgressCallback(func(p flash.Progress) {
			a.logger.Printf("%s: unit %d/%d (%.0f%%), %s sent",
				p.Partition, p.CurrentUnit, p.TotalUnits, p.Percentage,
				units.HumanSizeWithPrecision(float64(p.BytesWritten), 3))
		}),
	}

	if a.maxDownloadSize != "" {
		limit, err := parseSize(a.maxDownloadSize)
		if err != nil {
			return nil, fmt.Errorf("invalid --max-download-size: %w", err)
		}
		opts = append(opts, flash.WithMaxDownloadSize(limit))
	}
	return flash.New(s, opts...), nil
}
