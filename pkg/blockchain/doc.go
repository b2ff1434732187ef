// Package blockchain talks to the escrow ledger. It binds the
// MultiPartyEscrow, Registry and token contracts with go-ethereum, signs
// structured payment messages and submits transactions from a
// nonce-tracking Account.
//
// # Contracts
//
// Three contracts are used, with ABIs and per-network addresses taken from
// snet-ecosystem-contracts (LoadContracts):
//
//  1. MultiPartyEscrow (MPE): escrow balances and payment channels.
//  2. Registry: organization and service metadata URIs (read only).
//  3. The escrow's ERC-20 token: allowance and approve before deposits.
//
// # Sending transactions
//
// All writes go through an Account. Its Send method holds a lock across
// nonce selection, signing and submission and picks
//
//	nonce = max(local + 1, pending transaction count)
//
// so concurrent writers never reuse a nonce. Writes then wait for the
// receipt (ReceiptWaiter, 300 s by default). Failures are sdkerr ledger
// errors with a reason of reverted, timeout, signing or encoding:
//
//	receipt, err := mpe.ChannelExtend(ctx, channelID, newExpiration)
//	if errors.Is(err, sdkerr.ErrLedgerTimeout) {
//		// the transaction may still be mined later
//	}
//
// # Signing
//
// Signer keeps the claim signing key. StructuredHash implements Solidity's
// packed encoding for string, bytes, address, bytes32 and uint256, and
// SignDigest applies the "\x19Ethereum Signed Message:\n32" prefix with
// V in {27, 28}:
//
//	digest, _ := blockchain.ClaimHash(mpeAddr, channelID, nonce, amount)
//	sig, err := signer.SignDigest(digest)
//
// # Channel discovery
//
// FilterChannelOpen queries ChannelOpen logs for a block range, filtered by
// the indexed recipient and group id topics.
package blockchain
