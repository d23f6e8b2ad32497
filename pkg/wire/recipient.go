// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package wire

// Recipient strings in Jl records are lightly obfuscated on the wire: the
// sender adds a per-position delta to every byte, with the delta pattern
// repeating every blurWindow bytes. The delta at window offset k is 9-k
// when k is a multiple of three and 17-k otherwise.

const blurWindow = 28

var blurDelta [blurWindow]int

func init() {
	for k := 0; k < blurWindow; k++ {
		if k%3 == 0 {
			blurDelta[k] = 9 - k
		} else {
			blurDelta[k] = 17 - k
		}
	}
}

// BlurRecipient applies the wire obfuscation in place and returns its
// argument. Only used by tests and the plaintext feature toggle; the
// monitor itself only receives blurred recipients.
func BlurRecipient(b []byte) []byte {
	for i := range b {
		b[i] = byte(int(b[i]) + blurDelta[i%blurWindow])
	}
	return b
}

// DeblurRecipient undoes BlurRecipient in place and returns its argument.
func DeblurRecipient(b []byte) []byte {
	for i := range b {
		b[i] = byte(int(b[i]) - blurDelta[i%blurWindow])
	}
	return b
}
