package dts

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// sourceLexer covers the subset of device tree source accepted by Parse.
// Rules are tried in order, so directives and byte strings must precede the
// generic punctuation rule.
var sourceLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*|/\*([^*]|\*+[^*/])*\*+/`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Directive", Pattern: `/[a-z][a-z0-9-]*/`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
	{Name: "Bytes", Pattern: `\[[0-9a-fA-F\s]*\]`},
	{Name: "Number", Pattern: `0[xX][0-9a-fA-F]+|[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z_#][a-zA-Z0-9,._+#?@-]*`},
	{Name: "Punct", Pattern: `[{}<>;=,/]`},
})
