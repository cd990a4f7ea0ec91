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

// attrBuffer collects the attributes of the start tag being lexed. The backing array is reused
// from tag to tag, so the slice returned by get is only valid until the next reset.
type attrBuffer struct {
	buf []RawAttr
	pos int
}

func (buf *attrBuffer) growBy(n int) {
	buf.buf = append(buf.buf, make([]RawAttr, n)...)
}

func (buf *attrBuffer) reset() {
	buf.pos = 0
}

// add appends an attribute whose value is not known yet and returns it for filling in.
func (buf *attrBuffer) add(name *Name) *RawAttr {
	if buf.pos == len(buf.buf) {
		buf.growBy(len(buf.buf)/2 + 4)
	}
	attr := &buf.buf[buf.pos]
	*attr = RawAttr{Name: name}
	buf.pos++
	return attr
}

func (buf *attrBuffer) get() []RawAttr {
	if buf.pos == 0 {
		return nil
	}
	return buf.buf[:buf.pos]
}
