/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package hostnorm is the punycode/IDNA normalization helper the
// original design calls out explicitly (§4.6: "punycode helpers used by
// hostname normalization in consumers of extracted data"). Hostnames
// extracted by the QUIC SNI parsers are ASCII-compatible-encoded
// (xn--...) when the client presented an internationalized domain
// name; downstream consumers expect the Unicode form for display and
// the ACE form for matching, so this package can produce either.
package hostnorm

import "golang.org/x/net/idna"

// ToUnicode converts an ACE-encoded ("xn--...") hostname to its Unicode
// form. Hostnames that are not ACE-encoded are returned unchanged. A
// malformed label is returned as-is rather than erroring: hostname
// fields extracted from adversarial traffic should degrade gracefully,
// never abort classification.
func ToUnicode(host string) string {
	if u, err := idna.ToUnicode(host); err == nil {
		return u
	}
	return host
}

// ToASCII converts a Unicode hostname to its ACE-encoded form, suitable
// for case-insensitive matching against other extracted hostnames.
func ToASCII(host string) string {
	if a, err := idna.ToASCII(host); err == nil {
		return a
	}
	return host
}
