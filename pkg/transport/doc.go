// Package transport implements the long-polling client that carries one
// identity's session with the board service.
//
// Key concepts:
//   - Client: performs the handshake (sid fetch, init action, backlog poll),
//     then polls on a fixed cadence, decoding inbound events for a Handler.
//   - State: NotOpen -> Connecting -> Open -> ClosedError | ClosedByRequest.
//     Any handshake or poll failure is terminal; rebuilding a Client is the
//     caller's decision.
//   - Ack marks: every send records how many polls had started; WaitAck
//     returns once a later poll has completed.
package transport
