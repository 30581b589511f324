// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

/*
Package server implements the broker's HTTP flow.

A hub talks to identity providers directly:

	GET /{provider}/authenticate   store secret S1, redirect to the provider
	GET /{provider}/authenticated  redeem S1, store the callback under S2,
	                               redirect to the receiver with code=S2
	GET /{provider}/redeem         redeem S2, return the identity payload
	                               and optionally a signed token

A satellite holds no provider credentials. It stores its own secret, sends
the browser to the hub with itself as receiver, redeems the returned code at
the hub and sets the token as a cookie.

Every secret is single use. Redemption goes through the secret store's Pop,
so of several concurrent requests carrying the same secret exactly one
proceeds.
*/
package server
