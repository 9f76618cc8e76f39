// Patch a running 32-bit x86 host from the inside
//
// livepatch is loaded into an already running host process. It watches a
// patch file beside the host executable and writes each record of that file
// straight into process memory whenever the file's modification time moves
// forward. At attach time it can also redirect relative calls and jumps in
// the host to new code and move the host's fixed-size task table into a
// larger allocation.
//
// The patch file is a flat sequence of records:
//
//	address uint32 (little endian)
//	length  uint32 (little endian)
//	payload [length]byte
//
// There is no header or terminator. Decoding stops at the first short read.
//
// Limitations:
//   - Patches are applied best effort and never rolled back
//   - Hooks assume a specific host build; a guard byte check decides whether
//     they are installed at all
//   - Writing a bad address is the caller's problem
package livepatch
