// Package tracker follows several background tasks over one websocket
// connection and renders their progress.
//
// InitProgress builds a Registry from the caller's job descriptors, dials the
// progress endpoint, announces interest in every task with one follow_tasks
// request plus one check_task_completion request per task, and then routes each
// inbound message to the callbacks configured for its task. Messages are handled
// strictly in arrival order on a single goroutine, so callbacks never run
// concurrently with each other within a session.
//
// By default the shared connection is closed once every registered task has
// reported completion. CloseOnFirstComplete restores the older behavior of
// closing as soon as any task completes, which leaves the remaining tasks
// without further updates.
package tracker
