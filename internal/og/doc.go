// Package og is the order gateway of the control core.
//
// # Module
//
// Coordinator drives every order through the state machine
// CREATED -> SUBMITTED -> PARTIALLY_FILLED -> FILLED, with REJECTED, CANCELLED
// and FAILED as the other terminal states. Submission is idempotent by client
// order id and goes through a bounded worker pool.
//
// # Brackets
//
// A filled entry gets a STOP (stop-loss) and a LIMIT (take-profit) order linked
// as siblings. When one fills, the other is cancelled in the background.
//
// # Recovery
//
// Reconcile aligns checkpointed orders with the exchange before trading resumes.
// Drain waits on shutdown until every open order is terminal or confirmed
// resting.
package og
