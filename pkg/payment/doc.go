// Package payment builds the payment headers of SingularityNET service calls.
//
// A Strategy turns one call into a Metadata value: the ordered headers the
// daemon expects plus the channel that pays for the call. Four strategies
// are provided:
//
//   - FreeStrategy ("free-call") presents a provider-issued free-call token
//     and a signature over ("__prefix_free_trial", user, "__email", email,
//     block). It never touches channels.
//   - PaidStrategy ("escrow") signs a claim for last signed amount + price
//     on the selected channel for every call.
//   - PrepaidStrategy ("prepaid-call") obtains a token covering several
//     calls from the daemon's token service and presents it per call.
//   - DefaultStrategy picks free calls while available, then prepaid when
//     concurrency is enabled, else paid.
//
// # Channel selection
//
// Paid and prepaid calls share one selection procedure. Without a channel,
// one is opened (depositing first when the escrow balance is short).
// Otherwise the Selector picks a channel, LowestID by default, and at most
// one of extend, add funds, or extend and add funds is sent:
//
//	funds ok,  not expiring -> nothing
//	funds ok,  expiring     -> channelExtend
//	funds low, not expiring -> channelAddFunds(price * call allowance)
//	funds low, expiring     -> channelExtendAndAddFunds
//
// # Using the metadata
//
//	md, err := strategy.PaymentMetadata(ctx, env)
//	if err != nil {
//		return err
//	}
//	err = conn.Invoke(md.OutgoingContext(ctx), method, req, resp)
//	if err != nil {
//		md.Release()
//		return err
//	}
//	md.Commit()
//
// Release undoes a paid reservation nothing was signed after, and frees a
// prepaid slot without counting it as used.
//
// # Prepaid tokens
//
// ConcurrencyManager requests tokens with a double signature: the escrow
// claim, and a signature over (claim, current block). A token's planned
// amount is in cogs; a call is admitted while
// (used + in flight + 1) * price <= planned - used at issuance. A daemon
// reply containing PlannedAmountExhausted invalidates the token.
package payment
