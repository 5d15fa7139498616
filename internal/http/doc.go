// Package http exposes the administrative JSON API for appointments and
// allocations.
//
// The router exposes the following endpoints:
//   - POST /appointment-series: creates a series from the `seriesRequest`
//     payload and returns the series with its occurrences.
//   - GET /appointment-series/{id}, GET /appointment-series/{id}/occurrences:
//     series reads.
//   - GET /occurrences/{id}, PATCH /occurrences/{id}: occurrence read and scoped
//     edit. Edits carry a `scope` of THIS_ONLY, THIS_AND_FUTURE or
//     ALL_FUTURE_UNSTARTED and answer with a per-occurrence mutation report.
//   - PUT /occurrences/{id}/cancel, PUT /occurrences/{id}/uncancel: scoped
//     cancellation and its reversal.
//   - PUT /occurrences/{id}/attendance: records attended and not attended
//     people.
//   - POST /allocations, GET /allocations/{id}, PUT /allocations/{id}/suspend,
//     PUT /allocations/{id}/reactivate, PUT /allocations/{id}/deallocate:
//     allocation lifecycle. Future dated suspensions and deallocations are
//     planned rather than applied.
//   - GET /healthz, GET /metrics: unauthenticated operational endpoints.
//
// Every other route requires an `Authorization: Bearer <api key>` header. The
// client name bound to the key is recorded as the actor of each change.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
