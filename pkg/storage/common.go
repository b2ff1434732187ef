package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ipfs/kubo/client/rpc"
	"go.uber.org/zap"
)

const (
	// IpfsPrefix is the URI scheme prefix recognized for IPFS content.
	IpfsPrefix = "ipfs://"
	// FilecoinPrefix is the URI scheme prefix recognized for Filecoin/Lighthouse content.
	FilecoinPrefix = "filecoin://"
)

// Storage reads content-addressed blobs such as service metadata and proto
// bundles.
type Storage interface {
	ReadFile(ctx context.Context, uri string) ([]byte, error)
}

// LighthouseFetcher fetches content from a Lighthouse gateway.
type LighthouseFetcher interface {
	Fetch(ctx context.Context, endpoint, cid string) ([]byte, error)
}

// IPFSFetcher fetches content addressed by CID from IPFS.
type IPFSFetcher interface {
	Fetch(ctx context.Context, hash string) ([]byte, error)
}

// Client aggregates the configured storage backends.
type Client struct {
	// LighthouseURL is the base URL of the Lighthouse HTTP gateway.
	LighthouseURL string

	lighthouseFetcher LighthouseFetcher
	ipfsFetcher       IPFSFetcher
	log               *zap.Logger
}

var _ Storage = (*Client)(nil)

// NewStorage constructs a Client for the IPFS API endpoint and the
// Lighthouse gateway URL.
func NewStorage(ipfsURL, lighthouseURL string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	api, err := NewIPFSClient(ipfsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to IPFS %s: %w", ipfsURL, err)
	}
	return &Client{
		LighthouseURL:     lighthouseURL,
		lighthouseFetcher: httpLighthouseFetcher{log: log},
		ipfsFetcher:       newIPFSFetcher(api, log),
		log:               log,
	}, nil
}

// NewStorageWithFetchers builds a Client on custom backends.
func NewStorageWithFetchers(ipfs IPFSFetcher, lighthouse LighthouseFetcher, lighthouseURL string) *Client {
	return &Client{
		LighthouseURL:     lighthouseURL,
		lighthouseFetcher: lighthouse,
		ipfsFetcher:       ipfs,
		log:               zap.NewNop(),
	}
}

// ReadFile fetches content identified by uri. The "filecoin://" prefix
// selects the Lighthouse gateway; anything else is read from IPFS.
func (s *Client) ReadFile(ctx context.Context, uri string) ([]byte, error) {
	if strings.HasPrefix(uri, FilecoinPrefix) {
		if s.lighthouseFetcher == nil {
			return nil, fmt.Errorf("lighthouse gateway not configured")
		}
		return s.lighthouseFetcher.Fetch(ctx, s.LighthouseURL, formatHash(uri))
	}
	if s.ipfsFetcher == nil {
		return nil, fmt.Errorf("ipfs client not configured")
	}
	return s.ipfsFetcher.Fetch(ctx, formatHash(uri))
}

var specialCharacters = regexp.MustCompile("[^a-zA-Z0-9=]")

// formatHash removes known URI scheme prefixes and any non-alphanumeric
// characters (except '=') to produce a clean CID string.
func formatHash(hash string) string {
	hash = strings.ReplaceAll(hash, IpfsPrefix, "")
	hash = strings.ReplaceAll(hash, FilecoinPrefix, "")
	return removeSpecialCharacters(hash)
}

func removeSpecialCharacters(s string) string {
	return specialCharacters.ReplaceAllString(s, "")
}

// newIPFSFetcher wraps a Kubo HTTP API client.
func newIPFSFetcher(api *rpc.HttpApi, log *zap.Logger) IPFSFetcher {
	return &ipfsFetcher{api: api, log: log}
}
