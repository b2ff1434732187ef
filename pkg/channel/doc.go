// Package channel keeps track of the payment channels a client may spend
// from.
//
// A Store holds the channels of one (account, payment address, group)
// triple. It is populated by a Provider, which scans ChannelOpen events in
// fixed-size block batches and opens new channels, and refreshed by a
// StateSync, which asks the provider's daemon for the latest signed
// (nonce, amount) of each channel.
//
// PaymentChannel is shared by reference between the store and the payment
// strategies; all of its mutable state sits behind its own mutex.
package channel
