/*
Package dbsock is the client data layer of the fridge inventory app. It multiplexes many
request/response exchanges and server-initiated push messages over a single WebSocket
connection to the inventory server.

Here is a minimal client:

	c := dbsock.NewConn(dbsock.EndpointURL("localhost:8080", false), nil)
	c.Connect(ctx, func(c *dbsock.Conn) {
		c.RequestCreateStore("Kroger",
			func(f *dbsock.Fields) { fmt.Println("created store", f.Text("id")) },
			func(f *dbsock.Fields) { fmt.Println("failed:", f.Text("error_msg")) })
	}, nil, nil)

Every request carries a sequence id (request_seq) unique to its connection. The server answers
with a "response" message echoing the id and an error_ind field; the connection routes it to the
success or failure continuation registered for that id. Any other inbound command is handed to
the push handler registered for it with SetHandler.

Push handler registries are independent of connections, so handlers registered once keep
working when a new Conn is created after the previous one closed.

# Wire format

Two codecs are provided. TextCodec sends

	create_store?request_seq=0;command=create_store;name=Kroger

and JSONCodec sends the same fields as a flat JSON object. Timestamps travel in the canonical
form YYYY-MM-DDTHH:MM:SS (local time). Inbound values matching that form are decoded as
timestamps; everything else arrives as text and is re-parsed by the receiver (Value.Int,
Value.Bool, Value.Decimal).

# Layers

	3. Request wrappers (RequestStoreNames, ...) and the blocking Request helper
	2. Conn: connection lifecycle, sequencing, response and push dispatch
	1. Transport (golang.org/x/net/websocket or gorilla/websocket) and Codec
*/
package dbsock
