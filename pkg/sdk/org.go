package sdk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/singnet/snet-payments-go/pkg/model"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"github.com/singnet/snet-payments-go/pkg/storage"
	"go.uber.org/zap"
)

// metadataSource resolves registry records to published metadata documents.
type metadataSource interface {
	OrgMetadataURI(ctx context.Context, orgID string) (string, error)
	ServiceMetadataURI(ctx context.Context, orgID, serviceID string) (string, error)
}

// resolver reads organization and service metadata for service clients.
type resolver struct {
	registry metadataSource
	storage  storage.Storage
	log      *zap.Logger
}

func (c *Core) resolver() (*resolver, error) {
	if c.registry == nil {
		return nil, sdkerr.Config("no registry contract for network %s", c.cfg.Network.Name)
	}
	if c.storage == nil {
		return nil, sdkerr.Config("no metadata storage configured")
	}
	return &resolver{registry: c.registry, storage: c.storage, log: c.log}, nil
}

// organizationGroup returns the payment group groupName of orgID.
func (r *resolver) organizationGroup(ctx context.Context, orgID, groupName string) (model.PaymentGroup, error) {
	uri, err := r.registry.OrgMetadataURI(ctx, orgID)
	if err != nil {
		return model.PaymentGroup{}, fmt.Errorf("organization %s: %w", orgID, err)
	}
	var org model.OrganizationMetaData
	if err := r.readJSON(ctx, uri, &org); err != nil {
		return model.PaymentGroup{}, fmt.Errorf("organization %s metadata: %w", orgID, err)
	}
	for _, g := range org.Groups {
		if g != nil && g.GroupName == groupName {
			return g.PaymentGroup()
		}
	}
	return model.PaymentGroup{}, fmt.Errorf("organization %s has no group %q", orgID, groupName)
}

// serviceMetadata returns the metadata of serviceID with its proto files.
func (r *resolver) serviceMetadata(ctx context.Context, orgID, serviceID string) (*model.ServiceMetadata, error) {
	uri, err := r.registry.ServiceMetadataURI(ctx, orgID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("service %s/%s: %w", orgID, serviceID, err)
	}
	var meta model.ServiceMetadata
	if err := r.readJSON(ctx, uri, &meta); err != nil {
		return nil, fmt.Errorf("service %s/%s metadata: %w", orgID, serviceID, err)
	}

	source := meta.APISource()
	if source == "" {
		return nil, fmt.Errorf("service %s/%s publishes no API source", orgID, serviceID)
	}
	archive, err := r.storage.ReadFile(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("read proto bundle %s: %w", source, err)
	}
	if meta.ProtoFiles, err = storage.ParseProtoFiles(archive); err != nil {
		return nil, fmt.Errorf("proto bundle %s: %w", source, err)
	}
	r.log.Debug("service metadata loaded",
		zap.String("org", orgID),
		zap.String("service", serviceID),
		zap.Int("protoFiles", len(meta.ProtoFiles)))
	return &meta, nil
}

func (r *resolver) readJSON(ctx context.Context, uri string, v any) error {
	raw, err := r.storage.ReadFile(ctx, uri)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
