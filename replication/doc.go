// Package replication holds the node's replication state and the replica
// side of the primary/replica bootstrap.
//
// A replica dials its primary and drives a fixed handshake:
//
//	PING                          -> +PONG
//	REPLCONF listening-port <p>   -> +OK
//	REPLCONF capa psync2          -> +OK
//	PSYNC ? -1                    -> +FULLRESYNC <replid> <offset>
//
// followed by the snapshot payload, which is parsed as RDB and loaded into
// the store. Nothing is retried: any failure is returned as a
// *HandshakeError naming the step.
//
// Basic usage:
//
//	client := replication.NewClient("localhost:6379", store)
//	session, err := client.Sync(ctx, 6380)
//	if err != nil {
//		log.Print(err)
//	}
package replication
