package preview

import (
	"encoding/base64"
	"fmt"
	"io"
)

const (
	apcStart  = "\x1b_G"
	apcEnd    = "\x1b\\"
	chunkSize = 4096
)

// writeKitty transmits PNG data as one or more graphics escape sequences.
// Payloads above chunkSize are split with the m= continuation key.
func writeKitty(out io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	for first := true; len(encoded) > 0; first = false {
		n := min(chunkSize, len(encoded))
		chunk := encoded[:n]
		encoded = encoded[n:]

		more := "0"
		if len(encoded) > 0 {
			more = "1"
		}
		params := "m=" + more
		if first {
			params = "a=T,f=100,q=2"
			if more == "1" {
				params += ",m=1"
			}
		}
		if _, err := fmt.Fprintf(out, "%s%s;%s%s", apcStart, params, chunk, apcEnd); err != nil {
			return err
		}
	}
	return nil
}
