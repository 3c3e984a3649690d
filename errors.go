// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package porsav

import "errors"

// Every parse or write failure wraps one of these sentinels, so callers can
// sort failures with errors.Is without depending on message text.
// All of them abort the whole parse or write; there is no partial recovery.
var (
	ErrStructure     = errors.New("malformed fixed-layout field")
	ErrUnknownTag    = errors.New("unrecognized section tag")
	ErrOrdering      = errors.New("section out of required order")
	ErrFormat        = errors.New("invalid data stream")
	ErrUnexpectedEOF = errors.New("unexpected end of data")
	ErrWidth         = errors.New("invalid column width")
	ErrEncoding      = errors.New("unsupported character encoding")
)
