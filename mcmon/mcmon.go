// Package mcmon is the core of the mcmon application. It supervises exactly
// one game server process, providing individual components that work
// independently while communicating with each other over a synchronous event
// bus.
//
// Mechanism of Operation
//
// A Supervisor owns the server process. Its standard output is split into
// lines, and each line is stripped of the server's log prefix, e.g.
//
//    [12:00:00] [Server thread/INFO]: Steve left the game
//
// before being handed to ParseLine. Lines that ParseLine does not recognize are
// silently ignored. Recognized lines become events, and the events that affect
// the supervisor's state (the server announcing that it's done loading, users
// logging in and out) are applied under the supervisor's lock before they're
// published on the Bus.
//
// Anything written to standard error is published as an EventErrored and
// forces the status to Offline, regardless of what the standard output says.
//
// While the process is alive, a Sampler periodically queries the operating
// system for the process' CPU and memory usage and publishes them as
// EventStatsSample. The sampler quietly stops on its first failure, since that
// almost always means the process is gone.
//
// Lifecycle
//
// The status model is a small state machine:
//
//    Offline --Run--> Loading --"Done (...)!"--> Online
//       ^                |                          |
//       +---Kill/exit----+--------Kill/exit---------+
//
// Stderr output also moves the status to Offline without discarding the
// process, so that it can still be killed or restarted.
package mcmon
