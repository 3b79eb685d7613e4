// Package bot runs the chat connection lifecycle.
//
// A single supervisor goroutine (Bot.Run) waits for Start requests and then loops:
// acquire a session token, dial, log in, dispatch frames until the handle closes,
// and either reconnect after a backoff delay or settle back to Idle. There is no
// recursion; every reconnect is one more turn of that loop.
//
// States:
//
//	Idle -> Connecting -> LoggingIn -> Active
//	Active -> Reconnecting -> Connecting   (unexpected close)
//	any -> Closing -> Idle                 (Stop)
//
// Session and login failures are fatal and park the machine in Idle with the error
// visible in Status. Transport failures are retried with a doubling delay capped at
// the maximum, reset after every successful login.
//
// All connection state lives in one ConnectionContext guarded by a mutex. Each handle
// gets a generation number; callbacks from an older handle are ignored, so a late
// close from a previous connection can never tear down the current one.
//
// Chat messages are handed to a CommandProcessor on a bounded worker pool. When the
// pool stays full for longer than the queue wait the message is dropped and counted.
package bot
