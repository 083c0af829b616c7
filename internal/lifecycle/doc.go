// ABOUTME: Package documentation for the generation lifecycle
// ABOUTME: Describes the install, waiting, and activation state machine

// Package lifecycle drives a shell generation from installed to active.
//
// # State Machine
//
// A Runner owns one manifest generation and walks it through:
//
//	idle -> installing -> waiting -> active
//
// Install precaches every manifest asset in a single atomic batch; any
// asset failure fails the whole install, which is retried on an interval
// until it succeeds or the context is canceled. A generation that is
// already recorded as active skips straight to the active state.
//
// Activation deletes every cache that does not belong to the new
// generation (its asset cache and its "-data" conversation cache are
// retained), records the generation as active, and broadcasts a
// controllerchange event so connected clients reload against the new
// shell.
//
// # Waiting
//
// With WaitForClients set, an installed generation parks in the waiting
// state while clients are connected, mirroring cautious rollout: the old
// shell keeps serving until the last client disconnects or SkipWaiting
// is called. The default is to activate immediately.
//
// # Dispatcher
//
// The Dispatcher decouples lifecycle steps from their side effects.
// Handlers registered with On run synchronously and in order when an
// event is emitted; the first error aborts the emit so the runner can
// retry the step. Go spawns detached best-effort tasks (cache write-back,
// push relay) whose failures are logged and swallowed.
package lifecycle
