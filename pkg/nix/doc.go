// Package nix encodes Go values as Nix expressions.
//
// The encoder works on an explicit Value tree. Encode turns a Value into
// Nix source text; Marshal first builds the tree from arbitrary Go data with
// ValueOf and then encodes it.
//
// # Output
//
// Records and maps become attribute sets with one "key = value;" entry per
// line, indented by two spaces per level:
//
//	{
//	  networking = {
//	    hostName = "nixos";
//	  };
//	  imports = [
//	    ./hardware-configuration.nix
//	  ];
//	}
//
// Sequences become multi-line lists and tuples become single-line lists.
// Strings are double-quoted, except strings of at least 80 bytes containing
// a newline, which are written as indented '' block strings. Paths (see Path
// and the "path" struct tag option) are written as bare Nix paths when they
// only contain characters Nix allows in a path literal, and otherwise as
// ./. + "escaped text". Literal values are written verbatim.
//
// Tagged variants have no Go equivalent. Types that need them implement
// Marshaler and return UnitVariant, NewtypeVariant, TupleVariant or
// StructVariant values:
//
//	NewtypeVariant("Inches", Int(8))        // { inches = 8; }
//	TupleVariant("Point", Int(1), Int(2))   // { "Point" = [ 1 2 ] }
//
// # Errors
//
// All errors are *EncodeError values of one of two classes: contract
// violations (see MapBuilder) and payload errors, such as a Marshaler
// failing or a path tag on a non-string field. Encoding never returns
// partial output.
//
// Encoding is synchronous and keeps no shared mutable state, so separate
// calls may run concurrently.
package nix
