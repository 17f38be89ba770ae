package raft

import "encoding/gob"

// The wire/on-disk encoding for EntryPayload is encoding/gob (see DESIGN.md,
// "Dropped teacher dependency: google.golang.org/protobuf"): both
// storage/boltstore and transport/raftrpc gob-encode values that embed this
// closed interface, so the concrete variants are registered once here rather
// than in each caller.
func init() {
	gob.Register(Command(nil))
	gob.Register(ConfigurationPayload{})
	gob.Register(Dummy{})
}
