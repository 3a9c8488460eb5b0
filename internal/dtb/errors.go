package dtb

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedVersion is returned when neither the version nor the last
	// compatible version field of the header names version 17.
	ErrUnsupportedVersion = errors.New("dtb: unsupported version")
	// ErrNoCpusNode is returned when the root node has no cpus child.
	ErrNoCpusNode = errors.New("dtb: no cpus node")
	// ErrTruncated is returned when a header offset or a record runs past the
	// end of the blob.
	ErrTruncated = errors.New("dtb: truncated")
	// ErrInvalidToken matches every *TokenError.
	ErrInvalidToken = errors.New("dtb: invalid token")
	// ErrEarlyEnd is returned when FDT_END appears before the node being
	// parsed is closed.
	ErrEarlyEnd = errors.New("dtb: structure block ended inside a node")
	// ErrInvalidNodeName is returned for node names that are not valid UTF-8.
	ErrInvalidNodeName = errors.New("dtb: node name is not valid UTF-8")
)

// HeaderError reports a magic number mismatch.
type HeaderError struct {
	Expected uint32
	Found    uint32
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("dtb: invalid header magic: expected %#x, found %#x", e.Expected, e.Found)
}

// TokenError reports a word in the structure block that is not a token.
type TokenError struct {
	Offset int
	Value  uint32
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("dtb: invalid token %#x at offset %#x", e.Value, e.Offset)
}

func (e *TokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

// UnexpectedTokenError reports a valid token in a position that requires a
// different one.
type UnexpectedTokenError struct {
	Offset   int
	Expected Token
	Found    Token
}

func (e *UnexpectedTokenError) Error() string {
	return fmt.Sprintf("dtb: unexpected token at offset %#x: expected %s, found %s", e.Offset, e.Expected, e.Found)
}
