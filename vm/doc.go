// Package vm implements the bytelox virtual machine.
//
// This package contains:
//   - Tagged value representation and string objects
//   - The closed instruction set and opcode metadata
//   - Chunks, verification and disassembly
//   - CBOR chunk encoding
//   - The stack-based interpreter and its global table
package vm
