// Package schema defines the attendance and sync-queue data model.
//
// # Overview
//
// Two entities are persisted by the local store:
//
//   - AttendanceRecord: one child's check-in (and later check-out) for a date
//     and day tag, plus sync bookkeeping (sync_status, synced_at, sync_uuid).
//   - QueueItem: one remote-bound operation (check_in or checkout) awaiting or
//     having completed replay against the remote backend.
//
// # Sync Status
//
// AttendanceRecord.SyncStatus moves through:
//
//	pending --(remote write confirmed)--> synced
//	pending --(immediate attempt failed)--> failed
//	failed  --(retry reset / next flush)--> pending
//	synced  --(checkout)--> pending
//
// QueueItem.Status moves pending -> synced (terminal) or pending -> failed,
// and failed -> pending only through an explicit retry reset.
//
// # Payloads
//
// Queue items carry a JSON payload with everything needed to replay the
// operation without consulting the attendance table:
//
//	{"attendance_id": 7, "date": "2024-06-01", "child_name": "Ada",
//	 "service": "Morning", "day_tag": "T7", "check_in_time": "08:00 AM",
//	 "sync_uuid": "8f0c..."}
//
//	{"attendance_ids": [7, 9], "date": "2024-06-01", "day_tag": "T7",
//	 "checkout_time": "12:30 PM", "child_names": ["Ada", "Grace"]}
package schema
