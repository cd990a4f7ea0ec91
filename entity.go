// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xmppstream

import (
	"fmt"
	"unicode/utf8"
)

// maxEntityLen bounds the name between '&' and ';'. The longest legal reference is a hex
// character reference like "#x10FFFF" with leading zeros, which is already generous at 16.
const maxEntityLen = 16

var predefinedEntities = map[string]byte{
	"lt":   '<',
	"gt":   '>',
	"amp":  '&',
	"apos": '\'',
	"quot": '"',
}

// appendEntity decodes the reference name found between '&' and ';' and appends its replacement
// text to dst.
func appendEntity(dst *Scratch, ref []byte) error {
	if len(ref) == 0 {
		return fmt.Errorf("%w %q", InvalidEntity, "&;")
	}
	if ref[0] != '#' {
		b, ok := predefinedEntities[string(ref)]
		if !ok {
			return fmt.Errorf("%w &%s;", InvalidEntity, ref)
		}
		dst.AppendByte(b)
		return nil
	}
	r, err := parseCharRef(ref)
	if err != nil {
		return err
	}
	dst.AppendRune(r)
	return nil
}

// parseCharRef parses "#NNN" or "#xHHH".
func parseCharRef(ref []byte) (rune, error) {
	digits, base := ref[1:], 10
	if len(digits) > 0 && digits[0] == 'x' {
		digits, base = digits[1:], 16
	}
	if len(digits) == 0 {
		return 0, fmt.Errorf("%w &%s;", InvalidCharRef, ref)
	}
	var value rune
	for _, b := range digits {
		var digit rune
		switch {
		case b >= '0' && b <= '9':
			digit = rune(b - '0')
		case base == 16 && b >= 'a' && b <= 'f':
			digit = rune(b-'a') + 10
		case base == 16 && b >= 'A' && b <= 'F':
			digit = rune(b-'A') + 10
		default:
			return 0, fmt.Errorf("%w &%s;", InvalidCharRef, ref)
		}
		value = value*rune(base) + digit
		if value > utf8.MaxRune {
			return 0, fmt.Errorf("%w &%s;", InvalidCharRef, ref)
		}
	}
	if !isXMLChar(value) {
		return 0, fmt.Errorf("%w &%s;", InvalidCharRef, ref)
	}
	return value, nil
}
