package message

import "github.com/pkg/errors"

// ErrFormat is the sentinel for any violation of the CoAP frame grammar:
// short header, bad token length, bad option header, unterminated payload
// marker (spec section 7, "Format").
var ErrFormat = errors.New("message: format error")

var (
	errShortHeader    = errors.Wrap(ErrFormat, "datagram shorter than 4 bytes")
	errBadVersion     = errors.Wrap(ErrFormat, "unsupported CoAP version")
	errBadTokenLen    = errors.Wrap(ErrFormat, "token length greater than 8")
	errTruncated      = errors.Wrap(ErrFormat, "datagram truncated")
	errReservedNibble = errors.Wrap(ErrFormat, "reserved option header nibble (15)")
	errEmptyPayload   = errors.Wrap(ErrFormat, "payload marker present with zero-length payload")
	errOptionTooLong  = errors.Wrap(ErrFormat, "option length is 65000 or greater")
	errOptionNumber   = errors.Wrap(ErrFormat, "option number greater than 65000")
)
