// Package source locates, downloads and opens images to flash.
//
// Open opens a local file as a flash.Source. A Fetcher resolves references
// first: local paths, file://, http(s):// and s3://bucket/key. Images ending
// in .zst or .gz are decompressed before use.
//
//	f := source.NewFetcher(source.WithS3Region("eu-central-1"))
//	src, err := f.Fetch(ctx, "s3://images/lpi4a/root.ext4.zst")
//
// PartitionFor and Glob map image file names to partitions, so a directory
// of release images can be flashed in one go:
//
//	images, err := source.Glob("./release")
//	for _, img := range images {
//	    fmt.Println(img.Partition, img.Path)
//	}
package source
