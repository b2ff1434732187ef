package sdk

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/config"
	"github.com/singnet/snet-payments-go/pkg/model"
	"github.com/singnet/snet-payments-go/pkg/sdkerr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	testMPE      = "0x5e592F9b1d303183d963635f895f0f0C48284f4e"
	testRegistry = "0x4DCc70c6FCE4064803f0ae0cE48497B3f7182e5D"
)

// stubBackend answers ChainID; contract adapters are bound to it but never
// called in these tests.
type stubBackend struct {
	blockchain.Backend
	chainID *big.Int
}

func (b stubBackend) ChainID(context.Context) (*big.Int, error) {
	return b.chainID, nil
}

// mapStorage serves blobs by URI.
type mapStorage map[string][]byte

func (m mapStorage) ReadFile(_ context.Context, uri string) ([]byte, error) {
	if b, ok := m[uri]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%s not found", uri)
}

// staticRegistry maps org and service ids to metadata URIs.
type staticRegistry struct {
	orgs     map[string]string
	services map[string]string
}

func (r staticRegistry) OrgMetadataURI(_ context.Context, orgID string) (string, error) {
	if uri, ok := r.orgs[orgID]; ok {
		return uri, nil
	}
	return "", fmt.Errorf("organization %s not found", orgID)
}

func (r staticRegistry) ServiceMetadataURI(_ context.Context, orgID, serviceID string) (string, error) {
	if uri, ok := r.services[orgID+"/"+serviceID]; ok {
		return uri, nil
	}
	return "", fmt.Errorf("service %s/%s not found", orgID, serviceID)
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func hexKey(k *ecdsa.PrivateKey) string {
	return hexutil.Encode(gethcrypto.FromECDSA(k))
}

func TestNewLoggerLevels(t *testing.T) {
	info, err := NewLogger(false)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if info.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug enabled without Debug")
	}
	debug, err := NewLogger(true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !debug.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug disabled with Debug")
	}
}

func TestNewSDKRejectsInvalidConfig(t *testing.T) {
	_, err := NewSDK(context.Background(), &config.Config{})
	if !errors.Is(err, sdkerr.ErrConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
	_, err = NewSDK(context.Background(), nil)
	if !errors.Is(err, sdkerr.ErrConfig) {
		t.Fatalf("nil config: err = %v, want config error", err)
	}
}

func TestNewSDKWithBackend(t *testing.T) {
	key, signerKey := mustKey(t), mustKey(t)
	cfg := &config.Config{
		RPCAddr:          "http://127.0.0.1:8545",
		PrivateKey:       hexKey(key),
		SignerPrivateKey: hexKey(signerKey),
		MPEAddress:       testMPE,
		RegistryAddress:  testRegistry,
	}
	reg := prometheus.NewRegistry()
	core, err := NewSDK(context.Background(), cfg,
		WithBackend(stubBackend{chainID: big.NewInt(11155111)}),
		WithStorage(mapStorage{}),
		WithLogger(zap.NewNop()),
		WithRegisterer(reg),
	)
	if err != nil {
		t.Fatalf("NewSDK: %v", err)
	}
	defer core.Close()

	if got := core.Address(); got != gethcrypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("sender = %s", got.Hex())
	}
	if got := core.SignerAddress(); got != gethcrypto.PubkeyToAddress(signerKey.PublicKey) {
		t.Fatalf("signer = %s", got.Hex())
	}
	if core.MPE().Address() != common.HexToAddress(testMPE) {
		t.Fatalf("mpe = %s", core.MPE().Address().Hex())
	}
	if core.Registry() == nil || core.Addresses().Registry != common.HexToAddress(testRegistry) {
		t.Fatalf("registry not bound: %+v", core.Addresses())
	}
	if core.Metrics() == nil {
		t.Fatal("metrics not registered")
	}
	if cfg.BlockOffset != config.DefaultBlockOffset {
		t.Fatalf("defaults not applied: block offset %d", cfg.BlockOffset)
	}
}

func TestNewSDKChainMismatch(t *testing.T) {
	cfg := &config.Config{
		RPCAddr:    "http://127.0.0.1:8545",
		PrivateKey: hexKey(mustKey(t)),
		MPEAddress: testMPE,
	}
	_, err := NewSDK(context.Background(), cfg,
		WithBackend(stubBackend{chainID: big.NewInt(1)}),
		WithStorage(mapStorage{}),
		WithLogger(zap.NewNop()),
	)
	if !errors.Is(err, sdkerr.ErrConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestCoreWithoutRegistryCannotResolve(t *testing.T) {
	core := &Core{cfg: &config.Config{Network: config.Sepolia}, log: zap.NewNop()}
	if _, err := core.NewServiceClient(context.Background(), "org", "svc", "default_group"); !errors.Is(err, sdkerr.ErrConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
	if _, err := core.ListServices(context.Background(), "org"); !errors.Is(err, sdkerr.ErrConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func protoBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func testResolver(t *testing.T) *resolver {
	t.Helper()
	groupID := [32]byte{1, 2, 3}
	org := model.OrganizationMetaData{
		OrgID: "snet",
		Groups: []*model.OrganizationGroup{{
			ID:        model.EncodeGroupID(groupID),
			GroupName: "default_group",
			PaymentDetails: model.Payment{
				PaymentAddress:             "0x00000000000000000000000000000000000000a1",
				PaymentExpirationThreshold: big.NewInt(40320),
			},
		}},
	}
	svc := map[string]any{
		"version":            1,
		"display_name":       "Example",
		"encoding":           "proto",
		"service_type":       "grpc",
		"service_api_source": "ipfs://QmBundle",
		"mpe_address":        testMPE,
		"groups": []map[string]any{{
			"group_name": "default_group",
			"endpoints":  []string{"https://example.org:8088"},
			"pricing":    []map[string]any{{"price_model": "fixed_price", "price_in_cogs": 1, "default": true}},
		}},
	}
	return &resolver{
		registry: staticRegistry{
			orgs:     map[string]string{"snet": "ipfs://QmOrg"},
			services: map[string]string{"snet/example": "ipfs://QmService"},
		},
		storage: mapStorage{
			"ipfs://QmOrg":     mustJSON(t, org),
			"ipfs://QmService": mustJSON(t, svc),
			"ipfs://QmBundle": protoBundle(t, map[string]string{
				"example.proto": "syntax = \"proto3\"; package example; message Empty {}",
				"README.md":     "ignored",
			}),
		},
		log: zap.NewNop(),
	}
}

func TestResolverOrganizationGroup(t *testing.T) {
	r := testResolver(t)
	group, err := r.organizationGroup(context.Background(), "snet", "default_group")
	if err != nil {
		t.Fatalf("organizationGroup: %v", err)
	}
	if group.ID != ([32]byte{1, 2, 3}) {
		t.Fatalf("group id = %x", group.ID)
	}
	if group.PaymentAddress != common.HexToAddress("0x00000000000000000000000000000000000000a1") {
		t.Fatalf("payment address = %s", group.PaymentAddress.Hex())
	}
	if group.ExpirationThreshold.Int64() != 40320 {
		t.Fatalf("threshold = %s", group.ExpirationThreshold)
	}

	if _, err := r.organizationGroup(context.Background(), "snet", "other"); err == nil {
		t.Fatal("expected error for unknown group")
	}
	if _, err := r.organizationGroup(context.Background(), "nobody", "default_group"); err == nil {
		t.Fatal("expected error for unknown organization")
	}
}

func TestResolverServiceMetadata(t *testing.T) {
	r := testResolver(t)
	meta, err := r.serviceMetadata(context.Background(), "snet", "example")
	if err != nil {
		t.Fatalf("serviceMetadata: %v", err)
	}
	if len(meta.ProtoFiles) != 1 || meta.ProtoFiles["example.proto"] == "" {
		t.Fatalf("proto files = %v", meta.ProtoFiles)
	}
	group, err := meta.Group("default_group")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	price, err := group.PriceInCogs()
	if err != nil || price.Int64() != 1 {
		t.Fatalf("price = %v, %v", price, err)
	}
	if meta.GetMpeAddr() != common.HexToAddress(testMPE) {
		t.Fatalf("mpe = %s", meta.GetMpeAddr().Hex())
	}
}

func TestResolverMissingBundle(t *testing.T) {
	r := testResolver(t)
	delete(r.storage.(mapStorage), "ipfs://QmBundle")
	if _, err := r.serviceMetadata(context.Background(), "snet", "example"); err == nil {
		t.Fatal("expected error when the proto bundle is missing")
	}
}
