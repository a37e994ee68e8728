// Package chat implements the real-time chat gateway: the bounded message
// history, the registry of admitted connections, and the Gateway that
// admits connections and handles their frames.
//
// All history and registry mutations, and the queueing of every broadcast,
// happen under a single Gateway mutex. Transports only queue frames, so a
// slow socket never holds the lock; a full queue drops the frame for that
// connection alone.
//
// Inbound frames:
//
//	{"type":"message","text":"hi"}      // "content" is accepted for "text"
//	{"type":"delete","messageId":"..."}
//
// Outbound frames:
//
//	{"type":"history","messages":[...]}
//	{"type":"message","id":"...","authorId":null,"authorName":"Guest","text":"hi","createdAt":"..."}
//	{"type":"delete","messageId":"..."}
//	{"type":"error","message":"..."}
package chat
