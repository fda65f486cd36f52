// Package message encrypts and decrypts room messages.
//
// Payloads are base64(nonce ‖ ciphertext ‖ tag) sealed with chacha20poly1305
// under a room key version, with "room|version" as associated data.
// Decryption validates before it resolves keys, so malformed input never
// triggers a network fetch.
package message
