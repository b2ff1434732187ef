package blockchain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Registry reads organization and service records from the Registry contract.
type Registry struct {
	contract
}

// NewRegistry binds the Registry contract at address for reads.
func NewRegistry(address common.Address, backend Backend, opts ...Option) (*Registry, error) {
	parsed, err := RegistryABI()
	if err != nil {
		return nil, err
	}
	return &Registry{contract: newContract(address, parsed, backend, nil, newSettings(backend, opts))}, nil
}

// OrgMetadataURI returns the metadata URI registered for orgID.
func (r *Registry) OrgMetadataURI(ctx context.Context, orgID string) (string, error) {
	out, err := r.call(ctx, "getOrganizationById", StringToBytes32(orgID))
	if err != nil {
		return "", err
	}
	return r.uriFromRecord("getOrganizationById", "orgMetadataURI", out, "organization "+orgID)
}

// ServiceMetadataURI returns the metadata URI registered for serviceID in orgID.
func (r *Registry) ServiceMetadataURI(ctx context.Context, orgID, serviceID string) (string, error) {
	out, err := r.call(ctx, "getServiceRegistrationById", StringToBytes32(orgID), StringToBytes32(serviceID))
	if err != nil {
		return "", err
	}
	return r.uriFromRecord("getServiceRegistrationById", "metadataURI", out, "service "+orgID+"/"+serviceID)
}

// ListServices returns the service ids registered for orgID.
func (r *Registry) ListServices(ctx context.Context, orgID string) ([]string, error) {
	out, err := r.call(ctx, "listServicesForOrganization", StringToBytes32(orgID))
	if err != nil {
		return nil, err
	}
	found, _ := r.output("listServicesForOrganization", "found", out).(bool)
	if !found {
		return nil, fmt.Errorf("organization %s not found", orgID)
	}
	raw := r.output("listServicesForOrganization", "serviceIds", out)
	if raw == nil {
		return nil, fmt.Errorf("listServicesForOrganization: no serviceIds output")
	}
	ids := *abi.ConvertType(raw, new([][32]byte)).(*[][32]byte)
	return Bytes32ArrayToStrings(ids), nil
}

func (r *Registry) output(method, name string, out []any) any {
	for i, arg := range r.abi.Methods[method].Outputs {
		if arg.Name == name && i < len(out) {
			return out[i]
		}
	}
	return nil
}

func (r *Registry) uriFromRecord(method, field string, out []any, what string) (string, error) {
	found, _ := r.output(method, "found", out).(bool)
	if !found {
		return "", fmt.Errorf("%s not found in registry", what)
	}
	uri, ok := r.output(method, field, out).([]byte)
	if !ok {
		return "", fmt.Errorf("%s: unexpected %s output", method, field)
	}
	return string(uri), nil
}
