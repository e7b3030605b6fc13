// Package main hosts the taskprogress entrypoint.
//
// Architecture overview:
//   - Tracker: internal/tracker.Session owns one websocket connection. On open it sends a single follow_tasks request
//     for every registered task followed by one check_task_completion per task, then routes each inbound message to
//     the task's progress, success, error and result callbacks. The default callbacks draw onto an element.Document;
//     "watch" uses a console document that prints bars and messages.
//   - Relay: internal/relay.Server exposes /ws/progress/ (follow any number of tasks) and /ws/progress/{task_id}/
//     (follow one). Status checks are answered from a StatusSource (in-memory recorder or the Celery Postgres result
//     backend) and fanned out to every follower of the task.
//   - Update feed: internal/layer/pubsub carries task state from producers ("simulate", or real workers publishing the
//     same JSON) to relays through a Pub/Sub topic and subscription.
//   - Plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus metrics cover the
//     relay and, when --metrics-addr is set, the tracker's event hub.
//
// Quick checklist:
//   - Relay: taskprogress relay --source memory (or postgres with TASKPROGRESS_POSTGRES_DSN set).
//   - Watch: taskprogress watch --address ws://localhost:8000/ws/progress/ --task <id> --task <id>.
//   - Feed: set TASKPROGRESS_PUBSUB_PROJECT_ID plus a topic for "simulate" and a subscription for "relay".
package main
