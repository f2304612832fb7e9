// Package anchor models spatial anchors and the services that persist them.
//
// It provides:
//   - Pose math (position + unit quaternion orientation)
//   - GroupID, the shared key under which anchors are made visible to peers
//   - Handle/Unbound, the live and not-yet-bound anchor views
//   - Store, the shared anchor cloud, with in-memory, Postgres and SQLite backends
//   - Runtime, a reference device anchor service built on a Store
package anchor
