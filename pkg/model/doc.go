// Package model defines data structures representing organizations, services
// and their published metadata, as read from the Registry and from
// IPFS/Lighthouse storage.
//
// Organizations contain one or more groups, each with its own payment address
// and expiration threshold:
//
//	{
//		"group_id": "<base64 32 bytes>",
//		"group_name": "default_group",
//		"payment": {
//			"payment_address": "0x...",
//			"payment_expiration_threshold": 40320
//		}
//	}
//
// OrganizationGroup.PaymentGroup converts such a group into the PaymentGroup
// value the channel and payment packages work with. Service metadata carries
// per-group pricing (ServiceGroup.PriceInCogs) and daemon endpoints.
package model
