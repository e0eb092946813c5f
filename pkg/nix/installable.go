// Package nix models references to buildable configurations (installables
// and their attribute paths) and the preflight checks run against the nix
// binary before any deployment work starts.
package nix

import (
	"fmt"
	"strings"
)

// Kind discriminates the closed set of installable forms.
type Kind int

const (
	// KindFlake addresses an attribute inside a flake's output tree.
	KindFlake Kind = iota
	// KindFile addresses an attribute inside a plain Nix file.
	KindFile
	// KindExpression addresses an attribute inside an inline expression.
	KindExpression
	// KindStore is an already-built store path.
	KindStore
	// KindSystem is a fully resolved system configuration path.
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindFlake:
		return "flake"
	case KindFile:
		return "file"
	case KindExpression:
		return "expression"
	case KindStore:
		return "store"
	case KindSystem:
		return "system"
	}
	return "unknown"
}

// Installable references a buildable configuration: where its expression
// lives and the attribute path addressing it inside that location. Ref
// holds the flake reference, file path, expression source, or resolved
// path depending on Kind. Store and system references carry no attribute
// path. The zero value is an empty flake reference.
type Installable struct {
	Kind      Kind
	Ref       string
	Attribute []string
}

func Flake(ref string, attribute ...string) Installable {
	return Installable{Kind: KindFlake, Ref: ref, Attribute: attribute}
}

func File(path string, attribute ...string) Installable {
	return Installable{Kind: KindFile, Ref: path, Attribute: attribute}
}

func Expression(expr string, attribute ...string) Installable {
	return Installable{Kind: KindExpression, Ref: expr, Attribute: attribute}
}

func Store(path string) Installable {
	return Installable{Kind: KindStore, Ref: path}
}

func System(path string) Installable {
	return Installable{Kind: KindSystem, Ref: path}
}

// Args renders the installable as nix CLI arguments. The shapes are a wire
// contract with the builder: a flake is a single "ref#attr" argument with
// a trailing # when the attribute is empty, files and expressions emit the
// selector flag, the location, and the joined attribute only when one is
// present, and store or system paths are a single positional argument.
func (i Installable) Args() []string {
	switch i.Kind {
	case KindFile, KindExpression:
		flag := "--file"
		if i.Kind == KindExpression {
			flag = "--expr"
		}
		args := []string{flag, i.Ref}
		if len(i.Attribute) > 0 {
			args = append(args, JoinAttribute(i.Attribute))
		}
		return args
	case KindStore, KindSystem:
		return []string{i.Ref}
	default:
		return []string{i.Ref + "#" + JoinAttribute(i.Attribute)}
	}
}

func (i Installable) String() string {
	return strings.Join(i.Args(), " ")
}

// AppendAttribute returns a copy with elems appended to the attribute
// path. The receiver is left untouched so a resolved installable never
// aliases the input it was derived from.
func (i Installable) AppendAttribute(elems ...string) Installable {
	attr := make([]string, 0, len(i.Attribute)+len(elems))
	attr = append(attr, i.Attribute...)
	attr = append(attr, elems...)
	i.Attribute = attr
	return i
}

// ParseFlakeRef parses the "reference#attribute.path" syntax used by the
// flake override environment variables. The attribute part is optional.
func ParseFlakeRef(s string) (Installable, error) {
	ref, attr, _ := strings.Cut(s, "#")
	elems, err := ParseAttribute(attr)
	if err != nil {
		return Installable{}, err
	}
	return Installable{Kind: KindFlake, Ref: ref, Attribute: elems}, nil
}

// FromEnv returns the installable configured by the named environment
// variables, consulting them in order and parsing the first non-empty
// value as a flake reference. The second return reports whether any
// variable was set.
func FromEnv(lookup func(string) (string, bool), vars ...string) (Installable, bool, error) {
	for _, v := range vars {
		s, ok := lookup(v)
		if !ok || s == "" {
			continue
		}
		ins, err := ParseFlakeRef(s)
		if err != nil {
			return Installable{}, false, fmt.Errorf("parsing $%s: %w", v, err)
		}
		return ins, true, nil
	}
	return Installable{}, false, nil
}
