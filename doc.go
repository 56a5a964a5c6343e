// Package realtime is a Go client for Phoenix-style Realtime servers. It
// multiplexes broadcast messages, presence state, and Postgres
// change-data-capture feeds over a single WebSocket connection, and
// transparently recovers from network faults via reconnect and rejoin
// backoff.
//
// A Client owns the socket; Channels are joined on topics and carry
// per-event bindings:
//
//	client := realtime.NewClient("wss://example.com/realtime/v1/websocket",
//		realtime.WithAPIKey(apiKey))
//	client.Connect()
//	defer client.Disconnect()
//
//	ch := client.Channel("room:lobby")
//	ch.OnBroadcast("*", func(p realtime.Payload) {
//		log.Println(p.Broadcast.Event, p.Broadcast.Payload)
//	})
//	ch.Subscribe(func(status string, err error) {
//		log.Println("subscribed:", status, err)
//	})
package realtime
