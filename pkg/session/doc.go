/*
Package session runs inbound messages against per-key conversations.

A Manager serializes work per session key, in process and optionally across
replicas through a ports.DistributedLocker. A Machine builds on it: it loads
the committed state, executes the active agent inside a durable journal scope
and commits the new active agent, transcript and sequence number together.

A crash before the commit leaves the committed state untouched. Retrying the
same message replays the journaled steps, so remote effects happen once.
*/
package session
