// Package process launches the server as a local child process and owns its
// termination semantics.
//
// On unix the child becomes the leader of a new process group. Stop delivers
// SIGTERM to the whole group, waits for the configured grace period and then
// escalates to SIGKILL, so worker processes forked by the server exit with it.
//
// Windows has no default signal propagation to descendants. Stop and Kill
// therefore use a forceful tree-wide kill (taskkill /T /F) targeting the child
// and everything it spawned; there is no graceful phase on that platform.
package process
