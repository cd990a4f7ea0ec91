package xmppstream

// Token represents a lexical token produced by the tokenizer:
//
// * StartTag: <foo> or <foo />
// * CloseTag: </foo> implicitly </foo> too
// * CharData: A text run, with entities decoded and CDATA sections merged in
//
// Comments and the leading XML declaration are consumed without producing a token.
type Token interface {
	token()

	// Copy the token into a new instance.
	//
	// Token instances are reused by the tokenizer and their byte data lives in an Arena. This
	// function makes a copy for the unlikely case when the token value must be stored, and for
	// testing!
	Copy() Token
}

// StartTag is an opening XML tag <tag>
type StartTag struct {
	Name *Name
	Attr []RawAttr

	// SelfClosing is set for <tag/>. The tokenizer emits the matching CloseTag right after.
	SelfClosing bool
}

func (*StartTag) token() {}

func (s *StartTag) Copy() Token {
	c := StartTag{Name: s.Name, SelfClosing: s.SelfClosing}
	if s.Attr != nil {
		c.Attr = make([]RawAttr, len(s.Attr))
		for i, attr := range s.Attr {
			c.Attr[i] = RawAttr{Name: attr.Name, Value: copyBytes(attr.Value)}
		}
	}
	return &c
}

// CloseTag is a closing XML tag </tag>
type CloseTag struct {
	Name *Name
}

func (*CloseTag) token() {}

func (t *CloseTag) Copy() Token {
	return &CloseTag{t.Name}
}

// CharData contains a text node
type CharData struct {
	Data []byte
}

func (*CharData) token() {}

func (t *CharData) Copy() Token {
	return &CharData{copyBytes(t.Data)}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// RawAttr is a tag attribute like <foo bar="baz"> as lexed, before namespace resolution.
// The value has entities decoded and is backed by Arena memory.
type RawAttr struct {
	Name  *Name
	Value []byte
}

// Name stores an identifier name from either a tag or an attribute like <a:foo bar="baz">.
// This will generate the names "a:foo" for the tag, and "bar" for the attribute.
//
// Names are interned by the Arena and never modified, so they may be kept after a release.
type Name struct {
	space string
	local string
}

// Local returns the identifier name without namespace prefix.
//
// For example <a:b> generates the local name "b" with prefix "a"
// This method will return "b".
func (n *Name) Local() string {
	if n == nil {
		return ""
	}
	return n.local
}

// Prefix returns the namespace prefix, or "" for unprefixed names.
func (n *Name) Prefix() string {
	if n == nil {
		return ""
	}
	return n.space
}

// String returns the name as written in the document.
func (n *Name) String() string {
	if n == nil {
		return ""
	}
	if n.space == "" {
		return n.local
	}
	return n.space + ":" + n.local
}

// equal compares by content. Interned pointers are not stable across a name-table reset.
func (n *Name) equal(o *Name) bool {
	return n == o || (n != nil && o != nil && n.space == o.space && n.local == o.local)
}
