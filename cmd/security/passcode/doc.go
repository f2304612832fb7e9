// Package passcode hashes and verifies optional session passcodes.
//
// A host may protect an advertised session with a short shared passcode. The relay
// stores only an Argon2id hash (PHC-like encoding) and verifies joiners against it.
// Hash strings are treated as untrusted input during Verify and are bounds-checked.
package passcode
