package storage

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/kubo/client/rpc"
	"go.uber.org/zap"
)

// ParseProtoFiles extracts .proto files from a tar or tar.gz archive.
//
// Gzip input is detected by its magic header. Directory entries and non-.proto
// regular files are skipped. Keys of the result are the archive paths.
func ParseProtoFiles(archive []byte) (map[string]string, error) {
	var reader io.Reader = bytes.NewReader(archive)

	if isGzipFile(archive) {
		gzr, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip: %w", err)
		}
		defer gzr.Close()
		reader = gzr
	}

	tarReader := tar.NewReader(reader)
	protos := make(map[string]string)

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
			if !strings.HasSuffix(header.Name, ".proto") {
				continue
			}
			data, err := io.ReadAll(tarReader)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", header.Name, err)
			}
			protos[header.Name] = string(data)
		default:
			return nil, fmt.Errorf("unknown file type %c in file %s", header.Typeflag, header.Name)
		}
	}
	return protos, nil
}

// isGzipFile reports whether data starts with the gzip magic bytes.
func isGzipFile(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1F && data[1] == 0x8B
}

type ipfsFetcher struct {
	api *rpc.HttpApi
	log *zap.Logger
}

// Fetch reads a CID with `ipfs cat`. Raw-codec CIDs are verified against
// the returned bytes; DAG-encoded files cannot be rehashed without the
// chunking parameters and are trusted as served.
func (f *ipfsFetcher) Fetch(ctx context.Context, hash string) ([]byte, error) {
	if f.api == nil {
		return nil, fmt.Errorf("ipfs client not configured")
	}
	hash = formatHash(hash)

	c, err := cid.Parse(hash)
	if err != nil {
		return nil, fmt.Errorf("parse cid %q: %w", hash, err)
	}
	f.log.Debug("reading from IPFS", zap.String("cid", c.String()))

	resp, err := f.api.Request("cat", c.String()).Send(ctx)
	if err != nil {
		return nil, fmt.Errorf("ipfs cat %s: %w", c, err)
	}
	defer func() {
		if cerr := resp.Close(); cerr != nil {
			f.log.Warn("close ipfs response", zap.String("cid", c.String()), zap.Error(cerr))
		}
	}()
	if resp.Error != nil {
		return nil, fmt.Errorf("ipfs cat %s: %w", c, resp.Error)
	}

	content, err := io.ReadAll(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("read ipfs content %s: %w", c, err)
	}
	if err := verifyCID(c, content); err != nil {
		return nil, err
	}
	return content, nil
}

func verifyCID(expected cid.Cid, content []byte) error {
	if expected.Prefix().Codec != cid.Raw {
		return nil
	}
	got, err := expected.Prefix().Sum(content)
	if err != nil {
		return fmt.Errorf("hash ipfs content: %w", err)
	}
	if !got.Equals(expected) {
		return fmt.Errorf("ipfs content hash mismatch: expected %s, got %s", expected, got)
	}
	return nil
}

// NewIPFSClient constructs a Kubo HTTP API client pointed at url.
func NewIPFSClient(url string) (*rpc.HttpApi, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}
	return rpc.NewURLApiWithClient(url, httpClient)
}
