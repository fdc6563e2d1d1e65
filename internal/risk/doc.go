// Package risk guards the account against exposure beyond configured limits.
//
// # Module
//
// Gate authorizes policy decisions through an ordered pipeline and owns the
// account risk state. Position accounting changes only through ApplyFill; Authorize can start the account-wide cooldown but never touches
// positions.
//
// # Produce
//
// Verdict (ALLOW, SCALE_DOWN, REJECT) with a machine readable reason.
package risk
