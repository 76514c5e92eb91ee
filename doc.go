// Package minredis is a small Redis-compatible server that can bootstrap
// itself as a replica of another Redis node.
//
// A node serves PING, ECHO, SET (with PX), GET, INFO, REPLCONF, PSYNC and
// Lua scripting over RESP. Started with a primary, it runs the replica
// handshake once (PING, REPLCONF listening-port, REPLCONF capa psync2,
// PSYNC ? -1), loads the string keys of the snapshot it receives and then
// serves clients. As a master it answers PSYNC with a full resync and an
// empty snapshot.
//
// Basic usage:
//
//	node, err := minredis.New(
//		minredis.WithPort(6380),
//		minredis.WithReplicaOf("localhost 6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(node.Info())
//
// A failed handshake does not stop the node; it is reported by Status.
package minredis
