package replication

import "encoding/hex"

// emptyRDB is an RDB v11 file with aux fields and no keys
const emptyRDB = "524544495330303131fa0972656469732d76657205372e322e30fa0a72656469732d62697473c040fa056374696d65c26d08bc65fa08757365642d6d656dc2b0c41000fa08616f662d62617365c000fff06e3bfec0ff5aa2"

// EmptySnapshot returns the static snapshot a master sends after FULLRESYNC.
// It describes an empty dataset regardless of what the store holds.
func EmptySnapshot() []byte {
	data, err := hex.DecodeString(emptyRDB)
	if err != nil {
		panic("replication: corrupt empty snapshot constant")
	}
	return data
}
