package sos

import "errors"

var errTruncatedParity = errors.New("sos: parity stream shorter than its own trailer implies")
