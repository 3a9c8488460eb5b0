package dts

// sourceFile is the parse tree of a device tree source file.
type sourceFile struct {
	Version  string           `@Directive ";"`
	Reserves []*reserveEntry `@@*`
	Root     []*entry         `"/" "{" @@* "}" ";"`
}

// reserveEntry is a /memreserve/ line.
type reserveEntry struct {
	Address string `"/memreserve/" @Number`
	Size    string `@Number ";"`
}

// entry is either a child node or a property inside a node body.
type entry struct {
	Name    string   `@Ident`
	IsNode  bool     `( @"{"`
	Entries []*entry `  @@* "}"`
	Values  []*value `| ( "=" @@ ( "," @@ )* )? ) ";"`
}

// value is one comma-separated element of a property value.
type value struct {
	Str   *string  `  @String`
	Cells []string `| "<" @Number* ">"`
	Bytes *string  `| @Bytes`
}
