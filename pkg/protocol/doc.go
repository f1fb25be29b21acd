// ABOUTME: WSR2 wire protocol package
// ABOUTME: Defines the JSON envelope shared by clients and servers
// Package protocol implements the WSR2 wire envelope.
//
// Every frame is a JSON object with an optional integer "id" and a "data"
// payload. Requests that expect an answer carry an id; the peer echoes it
// in the response. Frames without an id are unsolicited messages.
//
// Example:
//
//	payload, err := protocol.Encode(protocol.NewRequest(7, json.RawMessage(`{"action":"account"}`)))
//	frame, err := protocol.Decode(reply)
//	if err == nil && frame.HasID {
//		// frame.ID == 7
//	}
package protocol
