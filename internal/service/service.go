// Package service exposes the HTTP-facing operations: job admission,
// status reporting, conversation buffering, and admin controls.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewJobService, NewStatusService, NewAdminService)
