// Package wsr2 is a reliability layer over a WebSocket connection.
//
// A Client reconnects on a fixed interval after the server drops the
// connection, up to a bounded number of attempts, and correlates
// asynchronous responses with their requests through an integer id
// embedded in every correlated request:
//
//	{"id": 12, "data": {...}}
//
// The server must echo the id in its response. Frames without an id are
// unsolicited and go to the OnMessage callback. Requests that stay
// unanswered longer than Config.RequestTimeout are resent by a periodic
// scan of the retry queue.
//
// Basic usage:
//
//	client := wsr2.New("ws://localhost:3000", wsr2.DefaultConfig())
//	client.OnOpen(func() {
//		client.Send(map[string]string{"action": "account"}, func(r wsr2.Response) {
//			log.Printf("account: %s", r.Data)
//		})
//	})
//	if err := client.Connect(); err != nil {
//		log.Fatal(err)
//	}
//
// Callbacks are registered before Connect so the first open and the
// first server message are never missed.
package wsr2
