// Package relay serves task progress to websocket clients.
//
// Clients connect to /ws/progress/ and follow any number of task ids, or to
// /ws/progress/{task_id}/ to follow exactly one. Task state comes from a
// StatusSource when a client asks for it and from Groups.Publish whenever a
// producer reports a change.
package relay
