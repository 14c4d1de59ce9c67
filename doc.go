// Package tidekv is the client library for the tidekv server: a sharded
// in-memory key-value store speaking a length-prefixed binary protocol
// over TCP.
//
// The Client maintains a connection pool per server, picks a server per key
// with a jump-hash selector when more than one address is configured, and
// supports the batched commands (MGet, MSet, MDel, MExists) so many keys can
// travel in a single network exchange.
//
//	client, err := tidekv.NewClient([]string{"127.0.0.1:6380"}, tidekv.Config{MaxSize: 4})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Set(ctx, tidekv.Item{Key: "user:1", Value: kv.Str("Alice"), TTL: time.Hour})
//	item, err := client.Get(ctx, "user:1")
//
// Values are typed (see the kv package); a Get returns exactly the kind that
// was stored. "Not found" is not an error: Item.Found reports it.
package tidekv
