//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/singnet/snet-payments-go/pkg/blockchain"
	"github.com/singnet/snet-payments-go/pkg/config"
	"go.uber.org/zap"
)

// TestSepoliaReadOnly reads the published escrow and registry contracts.
// Nothing is sent to the ledger.
func TestSepoliaReadOnly(t *testing.T) {
	rpc := os.Getenv("ETH_RPC_URL")
	if rpc == "" {
		t.Skip("ETH_RPC_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cli, err := blockchain.Dial(ctx, rpc)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	id, err := cli.ChainID(ctx)
	if err != nil {
		t.Fatalf("ChainID: %v", err)
	}
	if id.String() != config.Sepolia.ChainID {
		t.Skipf("endpoint serves chain %s, not Sepolia", id)
	}

	addrs, err := blockchain.LoadContracts(config.Sepolia.ChainID, blockchain.Overrides{})
	if err != nil {
		t.Fatalf("LoadContracts: %v", err)
	}
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	account := blockchain.NewAccount(key, id, cli, nil, zap.NewNop())
	mpe, err := blockchain.NewMPE(addrs.MPE, cli, account, blockchain.WithDeployTx(addrs.MPEDeployTx))
	if err != nil {
		t.Fatalf("NewMPE: %v", err)
	}

	cur, err := mpe.CurrentBlock(ctx)
	if err != nil {
		t.Fatalf("CurrentBlock: %v", err)
	}
	deployed, err := mpe.DeploymentBlock(ctx)
	if err != nil {
		t.Fatalf("DeploymentBlock: %v", err)
	}
	if deployed == 0 || deployed > cur {
		t.Fatalf("deployment block %d, current %d", deployed, cur)
	}
	next, err := mpe.NextChannelID(ctx)
	if err != nil {
		t.Fatalf("NextChannelID: %v", err)
	}
	if next.Sign() <= 0 {
		t.Fatalf("next channel id = %s", next)
	}
	balance, err := mpe.Balance(ctx, account.Address())
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("balance of a fresh key = %v, %v", balance, err)
	}

	reg, err := blockchain.NewRegistry(addrs.Registry, cli)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.ListServices(ctx, "snet"); err != nil {
		t.Fatalf("ListServices: %v", err)
	}
}
