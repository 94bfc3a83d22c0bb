package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionFor(t *testing.T) {
	tests := []struct {
		name      string
		partition string
		ok        bool
	}{
		{"u-boot-with-spl-lpi4a.bin", PartitionUBoot, true},
		{"boot-lpi4a-20240720_171951.ext4", PartitionBoot, true},
		{"root-lpi4a-20240720_171951.ext4.zst", PartitionRoot, true},
		{"sdcard-lpi4a.img.zst", PartitionSDCard, true},
		{"images/boot.ext4", PartitionBoot, true},
		{"reboot.img", "", false},
		{"rootfs.img", PartitionRoot, true},
		{"vendor.img", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := PartitionFor(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.partition, p)
		})
	}
}

func TestGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"root-lpi4a.ext4",
		"sdcard-lpi4a.img.zst",
		"boot-lpi4a.ext4",
		"u-boot-with-spl.bin",
		"vendor.img",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	images, err := Glob(dir)
	require.NoError(t, err)

	assert.Equal(t, []Image{
		{Path: filepath.Join(dir, "u-boot-with-spl.bin"), Partition: PartitionUBoot},
		{Path: filepath.Join(dir, "boot-lpi4a.ext4"), Partition: PartitionBoot},
		{Path: filepath.Join(dir, "root-lpi4a.ext4"), Partition: PartitionRoot},
		{Path: filepath.Join(dir, "sdcard-lpi4a.img.zst"), Partition: PartitionSDCard},
	}, images)
}

func TestGlobEmptyDir(t *testing.T) {
	images, err := Glob(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, images)
}
