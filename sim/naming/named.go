// Package naming defines the hierarchical names that identify components.
//
// A name is a series of dot-separated elements, for example
// "Soc.Cpu[1].Timer". Each element starts with a capital letter and may carry
// one or more bracketed indices.
package naming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Named describes an object that has a name.
type Named interface {
	// Name returns the name of the object.
	Name() string
}

// NamedBase is a base implementation of Named.
type NamedBase struct {
	name string
}

// Name returns the name.
func (b NamedBase) Name() string {
	return b.name
}

// MakeNamedBase creates a new NamedBase
func MakeNamedBase(name string) NamedBase {
	return NamedBase{name: name}
}

// ErrInvalidName is returned when a name does not follow the convention.
var ErrInvalidName = errors.New("invalid name")

// A Name is a hierarchical name that includes a series of tokens separated
// by dots.
type Name struct {
	Tokens []Token
}

// Token is one element of a name.
type Token struct {
	ElemName string
	Index    []int
}

// String rebuilds the textual form of the token.
func (t Token) String() string {
	s := t.ElemName
	for _, i := range t.Index {
		s += "[" + strconv.Itoa(i) + "]"
	}

	return s
}

// String rebuilds the textual form of the name.
func (n Name) String() string {
	parts := make([]string, len(n.Tokens))
	for i, t := range n.Tokens {
		parts[i] = t.String()
	}

	return strings.Join(parts, ".")
}

// Parse parses a name string and validates every element.
func Parse(sname string) (Name, error) {
	if sname == "" {
		return Name{}, fmt.Errorf("%w: empty name", ErrInvalidName)
	}

	tokens := strings.Split(sname, ".")
	name := Name{Tokens: make([]Token, len(tokens))}

	for i, token := range tokens {
		t, err := parseToken(token)
		if err != nil {
			return Name{}, fmt.Errorf("%w: %q: %s", ErrInvalidName, sname, err)
		}

		name.Tokens[i] = t
	}

	return name, nil
}

func parseToken(token string) (Token, error) {
	if err := bracketMustMatch(token); err != nil {
		return Token{}, err
	}

	ts := strings.Split(token, "[")
	elemName := ts[0]

	if err := elemNameMustBeValid(elemName); err != nil {
		return Token{}, err
	}

	indices := make([]int, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		if !strings.HasSuffix(ts[i], "]") {
			return Token{}, errors.New("index must be closed by a bracket")
		}

		index, err := strconv.Atoi(ts[i][0 : len(ts[i])-1])
		if err != nil {
			return Token{}, errors.New("name index must be integer")
		}

		indices[i-1] = index
	}

	return Token{ElemName: elemName, Index: indices}, nil
}

func bracketMustMatch(name string) error {
	open := 0

	for _, c := range name {
		switch c {
		case '[':
			open++
			if open > 1 {
				return errors.New("brackets must not nest")
			}
		case ']':
			open--
			if open < 0 {
				return errors.New("name bracket must match")
			}
		}
	}

	if open != 0 {
		return errors.New("name bracket must match")
	}

	return nil
}

func elemNameMustBeValid(elemName string) error {
	if elemName == "" {
		return errors.New("name element must not be empty")
	}

	for _, c := range []string{"_", "\"", "'", "-", " ", "/", ":"} {
		if strings.Contains(elemName, c) {
			return errors.New("name element must not contain " + c)
		}
	}

	if elemName[0] < 'A' || elemName[0] > 'Z' {
		return errors.New("name element must start with a capital letter")
	}

	return nil
}

// Validate returns an error if the name does not follow the naming
// convention.
func Validate(name string) error {
	_, err := Parse(name)
	return err
}

// MustBeValid panics if the name does not follow the naming convention.
func MustBeValid(name string) {
	if err := Validate(name); err != nil {
		panic(err)
	}
}

// Parent returns the name of the owner of the named element, or an empty
// string for a root element.
func Parent(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}

	return name[:i]
}

// Base returns the last element of the name.
func Base(name string) string {
	return name[strings.LastIndex(name, ".")+1:]
}

// BuildName builds a name from a parent name and an element name.
func BuildName(parentName, elementName string) string {
	if parentName == "" {
		return elementName
	}

	return parentName + "." + elementName
}

// BuildNameWithIndex builds a name from a parent name, an element name and an
// index.
func BuildNameWithIndex(parentName, elementName string, index int) string {
	return BuildName(parentName, elementName+"["+strconv.Itoa(index)+"]")
}
