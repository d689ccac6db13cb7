// Package dispatch implements a multi-protocol RPC method dispatcher: one
// registry of named procedures served over both a JSON wire dialect and
// XML-RPC, with the xmlrpc-style system.* introspection procedures built in.
//
// Responsibilities:
// - Resolve registered callables into published descriptors (name, params,
//   signature, help text, permission tag).
// - Decode JSON single/batch envelopes and XML methodCall documents, bind
//   arguments, invoke, and encode protocol-correct responses.
// - Map procedure failures onto the reserved fault code taxonomy.
//
// Non-responsibilities:
// - Transport concerns (HTTP listeners, auth, limits); hosts feed raw
//   request bytes into a Coordinator and write the returned bytes out.
package dispatch
