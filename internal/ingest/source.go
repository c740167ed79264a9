package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// Format is the record layout of a dump.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown dump format %q", raw)
}

// ErrUnknownFormat is returned when a dump name has no recognizable suffix
// and no format was given.
var ErrUnknownFormat = errors.New("cannot infer dump format")

// Dump is an opened, decompressed dump stream.
type Dump struct {
	Name   string
	Format Format
	io.Reader

	closers []func() error
}

// Close releases the decompressor, the object reader and the bucket.
func (d *Dump) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenDump opens a local path or a bucket URL (file://, s3://, gs://).
// A .zst or .gz suffix selects the decompressor. When format is empty it is
// inferred from the remaining suffix.
func OpenDump(ctx context.Context, source string, format Format) (*Dump, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("dump source is required")
	}

	d := &Dump{Name: source}
	var (
		raw  io.Reader
		name string
	)
	if strings.Contains(source, "://") {
		bucketURL, key, err := splitBucketURL(source)
		if err != nil {
			return nil, err
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
		}
		d.closers = append(d.closers, bucket.Close)
		r, err := bucket.NewReader(ctx, key, nil)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("open object %s: %w", key, err)
		}
		d.closers = append(d.closers, r.Close)
		raw = r
		name = key
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("open dump: %w", err)
		}
		d.closers = append(d.closers, f.Close)
		raw = f
		name = filepath.Base(source)
	}

	reader, closeFn, inner, err := decompress(raw, name)
	if err != nil {
		d.Close()
		return nil, err
	}
	if closeFn != nil {
		d.closers = append(d.closers, closeFn)
	}
	d.Reader = reader

	if format == "" {
		format, err = inferFormat(inner)
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	d.Format = format
	return d, nil
}

// splitBucketURL separates an object URL into the bucket URL gocloud opens
// and the object key.
func splitBucketURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse dump url: %w", err)
	}
	switch u.Scheme {
	case "file":
		dir, key := path.Split(u.Path)
		if key == "" {
			return "", "", fmt.Errorf("dump url %s names a directory", raw)
		}
		bucket := url.URL{Scheme: "file", Path: strings.TrimSuffix(dir, "/"), RawQuery: u.RawQuery}
		if bucket.Path == "" {
			bucket.Path = "/"
		}
		return bucket.String(), key, nil
	case "s3", "gs":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return "", "", fmt.Errorf("dump url %s must name a bucket and an object", raw)
		}
		bucket := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
		return bucket.String(), key, nil
	}
	return "", "", fmt.Errorf("unsupported dump url scheme %q", u.Scheme)
}

// decompress wraps r according to the name's suffix and returns the name
// with the compression suffix removed.
func decompress(r io.Reader, name string) (io.Reader, func() error, string, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zst"):
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, "", fmt.Errorf("create zstd decoder: %w", err)
		}
		closeFn := func() error {
			dec.Close()
			return nil
		}
		return dec, closeFn, name[:len(name)-len(".zst")], nil
	case strings.HasSuffix(lower, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, "", fmt.Errorf("create gzip reader: %w", err)
		}
		return gz, gz.Close, name[:len(name)-len(".gz")], nil
	}
	return r, nil, name, nil
}

func inferFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}
