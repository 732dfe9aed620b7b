/*
Package main is the findy-didcomm agent command. It runs a DIDComm v1 agent
which speaks the Aries protocols with the other agents:

  - connections and DID exchange over out-of-band invitations
  - coordinate mediation and message pickup, as recipient or as mediator
  - issue credential v1 and v2
  - present proof v1 and v2
  - basic message and trust ping

The agent keeps its records in a bbolt file and it's reachable over HTTP and
WebSocket. The same agent can be embedded to a Go program with the agent
package.

# Sub-packages

	agent    the agent assembly and its framework: storage, bus, psm, comm, ..
	cmd      the cobra commands of this program
	protocol the protocol services which run the state machines
	server   the inbound HTTP and WebSocket server
	std      the Aries protocol messages
*/
package main
