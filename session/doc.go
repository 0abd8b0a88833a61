// Package session provides core.SessionStore implementations.
//
// InMemoryStore keeps sessions in a process local map. The sqlite and redis
// subpackages provide durable and shared stores with the same semantics:
//
//   - GetOrCreate is a single conditional insert, so concurrent callers on one
//     key observe exactly one created=true result.
//   - app: and user: prefixed state is stored once per app and per user and
//     merged into every session returned by Get.
//   - temp: state is never persisted.
package session
