/*
Package health implements liveness probes behind a common Check(ctx)
Result contract, plus a Status that turns a stream of Results into a
debounced healthy/unhealthy verdict via consecutive-failure and
consecutive-success counts.

pkg/supervisor uses TCPChecker to poll a freshly spawned storage-server
process until its port accepts connections, bounding how long Spawn waits
before giving up and logging a warning rather than blocking forever.
*/
package health
