// Package storage retrieves service metadata and API sources from the
// decentralized stores used by the marketplace registry.
//
// # Supported Backends
//
// IPFS (InterPlanetary File System):
//   - Content-addressed storage
//   - Access via Kubo HTTP API
//   - Default: https://ipfs.singularitynet.io:443
//   - URIs: ipfs://Qm... or bare CIDs
//
// Lighthouse (Filecoin Gateway):
//   - Access via HTTP gateway
//   - Default: https://gateway.lighthouse.storage/ipfs/
//   - URIs: filecoin://<cid>
//
// # Usage
//
//	client, err := storage.NewStorage(cfg.IpfsURL, cfg.LighthouseURL, logger)
//	if err != nil {
//		return err
//	}
//	raw, err := client.ReadFile(ctx, "ipfs://QmServiceMetadata")
//
// Proto bundles referenced by service_api_source are tar or tar.gz archives;
// ParseProtoFiles turns them into a name to content map suitable for
// grpc.Compile.
//
// Content fetched by raw-codec CIDs is rehashed and rejected on mismatch.
package storage
