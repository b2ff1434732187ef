package model

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceModelFixed is the only price model the payment strategies understand.
const PriceModelFixed = "fixed_price"

// OrganizationMetaData is the organization document referenced by the Registry.
type OrganizationMetaData struct {
	OrgName string               `json:"org_name"`
	OrgID   string               `json:"org_id"`
	Groups  []*OrganizationGroup `json:"groups"`
}

// ServiceMetadata is the read-only snapshot of a provider's published terms.
// It is fetched once when a service client is built.
type ServiceMetadata struct {
	Version          int               `json:"version"`
	DisplayName      string            `json:"display_name"`
	Encoding         string            `json:"encoding"`
	ServiceType      string            `json:"service_type"`
	Groups           []*ServiceGroup   `json:"groups"`
	ModelIpfsHash    string            `json:"model_ipfs_hash"`
	ServiceApiSource string            `json:"service_api_source"`
	MPEAddress       string            `json:"mpe_address"`
	ProtoFiles       map[string]string `json:"-"`
}

// GetMpeAddr returns the MPE address the service metadata was published for.
func (s *ServiceMetadata) GetMpeAddr() common.Address {
	return common.HexToAddress(s.MPEAddress)
}

// Group returns the service group named groupName.
func (s *ServiceMetadata) Group(groupName string) (*ServiceGroup, error) {
	for _, g := range s.Groups {
		if g != nil && g.GroupName == groupName {
			return g, nil
		}
	}
	return nil, fmt.Errorf("group %q not found in service metadata", groupName)
}

// APISource returns the storage URI of the service's proto bundle. Older
// metadata only carries model_ipfs_hash.
func (s *ServiceMetadata) APISource() string {
	if s.ServiceApiSource != "" {
		return s.ServiceApiSource
	}
	return s.ModelIpfsHash
}

// OrganizationGroup is a provider-side billing bucket.
type OrganizationGroup struct {
	// ID is the base64-encoded 32-byte group id.
	ID             string  `json:"group_id"`
	GroupName      string  `json:"group_name"`
	PaymentDetails Payment `json:"payment"`
}

// PaymentGroup decodes the group into the value used by the payment core.
func (g *OrganizationGroup) PaymentGroup() (PaymentGroup, error) {
	id, err := DecodeGroupID(g.ID)
	if err != nil {
		return PaymentGroup{}, err
	}
	if !common.IsHexAddress(g.PaymentDetails.PaymentAddress) {
		return PaymentGroup{}, fmt.Errorf("group %q: invalid payment address %q", g.GroupName, g.PaymentDetails.PaymentAddress)
	}
	threshold := new(big.Int)
	if g.PaymentDetails.PaymentExpirationThreshold != nil {
		threshold.Set(g.PaymentDetails.PaymentExpirationThreshold)
	}
	return PaymentGroup{
		ID:                  id,
		Name:                g.GroupName,
		PaymentAddress:      common.HexToAddress(g.PaymentDetails.PaymentAddress),
		ExpirationThreshold: threshold,
	}, nil
}

// Pricing is one price entry of a service group.
type Pricing struct {
	PriceModel  string   `json:"price_model"`
	PriceInCogs *big.Int `json:"price_in_cogs,omitempty"`
	Default     bool     `json:"default,omitempty"`
}

// ServiceGroup binds a service to an organization group.
type ServiceGroup struct {
	Pricing        []Pricing `json:"pricing"`
	GroupName      string    `json:"group_name"`
	GroupID        string    `json:"group_id"`
	Endpoints      []string  `json:"endpoints"`
	FreeCalls      int       `json:"free_calls"`
	FreeCallSigner string    `json:"free_call_signer_address"`
}

// PriceInCogs returns the fixed price of one call. The default entry wins
// when several fixed prices are published.
func (g *ServiceGroup) PriceInCogs() (*big.Int, error) {
	var found *big.Int
	for _, p := range g.Pricing {
		if p.PriceModel != PriceModelFixed || p.PriceInCogs == nil {
			continue
		}
		if p.Default || found == nil {
			found = p.PriceInCogs
		}
	}
	if found == nil {
		return nil, errors.New("no fixed_price pricing in service group")
	}
	if found.Sign() < 0 {
		return nil, errors.New("negative price_in_cogs")
	}
	return new(big.Int).Set(found), nil
}

// Payment holds the payment details of an organization group.
type Payment struct {
	PaymentAddress             string   `json:"payment_address"`
	PaymentExpirationThreshold *big.Int `json:"payment_expiration_threshold"`
	PaymentChannelStorageType  string   `json:"payment_channel_storage_type"`
}

// PaymentGroup identifies a payment destination: the 32-byte group id, the
// recipient address and the minimal number of blocks a channel must stay
// open for before it is treated as expiring.
type PaymentGroup struct {
	ID                  [32]byte
	Name                string
	PaymentAddress      common.Address
	ExpirationThreshold *big.Int
}

// DecodeGroupID decodes a base64-encoded payment group id into a [32]byte.
func DecodeGroupID(encoded string) ([32]byte, error) {
	var groupID [32]byte
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return groupID, fmt.Errorf("decode group id: %w", err)
	}
	if len(decoded) != len(groupID) {
		return groupID, fmt.Errorf("group id must be 32 bytes, got %d", len(decoded))
	}
	copy(groupID[:], decoded)
	return groupID, nil
}

// EncodeGroupID is the inverse of DecodeGroupID.
func EncodeGroupID(id [32]byte) string {
	return base64.StdEncoding.EncodeToString(id[:])
}
