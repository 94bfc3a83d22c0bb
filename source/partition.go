package source

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Partitions recognised from image file names.
const (
	PartitionUBoot  = "uboot"
	PartitionBoot   = "boot"
	PartitionRoot   = "root"
	PartitionSDCard = "sdcard"
)

// imagePatterns map file names to partitions. The first match wins and the
// order is also the flash order.
var imagePatterns = []struct {
	pattern   string
	partition string
}{
	{"*u-boot*", PartitionUBoot},
	{"boot*", PartitionBoot},
	{"*root*", PartitionRoot},
	{"*sdcard*", PartitionSDCard},
}

// imageGlob selects flashable files in a directory.
const imageGlob = "*.{img,bin,ext4,zst,gz}"

// Image is a flashable file found on disk.
type Image struct {
	Path      string
	Partition string
}

// PartitionFor returns the partition an image file name belongs to.
// Names that match no known pattern return false.
//
// Example:
//
//	p, ok := source.PartitionFor("u-boot-with-spl-lpi4a.bin") // "uboot", true
func PartitionFor(name string) (string, bool) {
	base := path.Base(filepath.ToSlash(name))
	for _, ip := range imagePatterns {
		if ok, _ := doublestar.Match(ip.pattern, base); ok {
			return ip.partition, true
		}
	}
	return "", false
}

// rank orders partitions for flashing: known partitions first, in pattern order.
func rank(partition string) int {
	for i, ip := range imagePatterns {
		if ip.partition == partition {
			return i
		}
	}
	return len(imagePatterns)
}

// Glob lists the recognised images in dir in flash order.
// Files whose partition cannot be derived from the name are skipped.
func Glob(dir string) ([]Image, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), imageGlob)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}

	var images []Image
	for _, m := range matches {
		p, ok := PartitionFor(m)
		if !ok {
			continue
		}
		images = append(images, Image{Path: filepath.Join(dir, filepath.FromSlash(m)), Partition: p})
	}

	sort.SliceStable(images, func(i, j int) bool {
		ri, rj := rank(images[i].Partition), rank(images[j].Partition)
		if ri != rj {
			return ri < rj
		}
		return images[i].Path < images[j].Path
	})
	return images, nil
}
