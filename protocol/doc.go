/*
Package protocol has the protocol services of the agent. Every service owns
the state machine records of its protocol in agent/psm, handles the inbound
messages the dispatcher gives to it and offers the operations the host
application starts the protocols with. The messages are in the std packages.
*/
package protocol
